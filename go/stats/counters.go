/*
Copyright 2017 Google Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package stats holds the small subset of expvar-backed counters the
// protocol core publishes: router failover decisions and the number of
// open ReplyStreams. It is not a general metrics framework.
package stats

import (
	"bytes"
	"expvar"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
)

var publishedMu sync.Mutex
var published = map[string]bool{}

// publish registers v under name with expvar, tolerating duplicate
// registration from repeated NewCounter calls in tests.
func publish(name string, v expvar.Var) {
	publishedMu.Lock()
	defer publishedMu.Unlock()
	if published[name] {
		return
	}
	published[name] = true
	expvar.Publish(name, v)
}

// Counter is an expvar.Var that only ever goes up (or is Reset to 0).
type Counter struct {
	i    atomic.Int64
	help string
}

// NewCounter returns a new Counter, publishing it under name if name is set.
func NewCounter(name string, help string) *Counter {
	v := &Counter{help: help}
	if name != "" {
		publish(name, v)
	}
	return v
}

// Add adds delta to the Counter.
func (v *Counter) Add(delta int64) {
	v.i.Add(delta)
}

// Reset resets the counter value to 0.
func (v *Counter) Reset() {
	v.i.Store(0)
}

// Get returns the current value.
func (v *Counter) Get() int64 {
	return v.i.Load()
}

// String implements expvar.Var.
func (v *Counter) String() string {
	return strconv.FormatInt(v.i.Load(), 10)
}

// Help returns the help string.
func (v *Counter) Help() string {
	return v.help
}

// Gauge is an unlabeled metric whose value can go up and down.
type Gauge struct {
	Counter
}

// NewGauge creates a new Gauge, publishing it under name if name is set.
func NewGauge(name string, help string) *Gauge {
	v := &Gauge{Counter: Counter{help: help}}
	if name != "" {
		publish(name, v)
	}
	return v
}

// Set sets the gauge value.
func (v *Gauge) Set(value int64) {
	v.Counter.i.Store(value)
}

// CountersWithLabels tracks named int64 counters under a single label
// dimension, e.g. per-endpoint failover counts.
type CountersWithLabels struct {
	mu        sync.RWMutex
	counts    map[string]*atomic.Int64
	help      string
	labelName string
}

// NewCountersWithLabels creates a CountersWithLabels, publishing it under
// name if name is set, and pre-creating the given tags at 0.
func NewCountersWithLabels(name, help, labelName string, tags ...string) *CountersWithLabels {
	c := &CountersWithLabels{
		counts:    make(map[string]*atomic.Int64),
		help:      help,
		labelName: labelName,
	}
	for _, tag := range tags {
		c.counts[tag] = &atomic.Int64{}
	}
	if name != "" {
		publish(name, c)
	}
	return c
}

func (c *CountersWithLabels) valueAddr(name string) *atomic.Int64 {
	c.mu.RLock()
	a, ok := c.counts[name]
	c.mu.RUnlock()
	if ok {
		return a
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok = c.counts[name]; ok {
		return a
	}
	a = &atomic.Int64{}
	c.counts[name] = a
	return a
}

// Add adds value to the named counter.
func (c *CountersWithLabels) Add(name string, value int64) {
	c.valueAddr(name).Add(value)
}

// Reset resets the named counter to 0.
func (c *CountersWithLabels) Reset(name string) {
	c.valueAddr(name).Store(0)
}

// Counts returns a snapshot of all counter values.
func (c *CountersWithLabels) Counts() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	counts := make(map[string]int64, len(c.counts))
	for k, a := range c.counts {
		counts[k] = a.Load()
	}
	return counts
}

// LabelName returns the label dimension name.
func (c *CountersWithLabels) LabelName() string {
	return c.labelName
}

// Help returns the help string.
func (c *CountersWithLabels) Help() string {
	return c.help
}

// String implements expvar.Var.
func (c *CountersWithLabels) String() string {
	b := &bytes.Buffer{}
	fmt.Fprint(b, "{")
	first := true
	for k, v := range c.Counts() {
		if !first {
			fmt.Fprint(b, ", ")
		}
		first = false
		fmt.Fprintf(b, "%q: %v", k, v)
	}
	fmt.Fprint(b, "}")
	return b.String()
}
