/*
Copyright 2019 The Vitess Authors.

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

package router

import (
	"errors"
	"sort"
)

// Endpoint is one candidate server address. A well-formed endpoint list
// is either fully prioritized (every entry has HasPriority set) or
// fully unprioritized; mixing is rejected by ValidateEndpoints.
type Endpoint struct {
	Host        string
	Port        int
	SocketPath  string
	Priority    int
	HasPriority bool
}

// ValidateEndpoints enforces the boundary behaviors of spec.md §8: port
// range, priority range, and no mixing of explicit/implicit priority.
// Error strings match the source connector's compatibility contract
// exactly, since callers pattern-match on them in tests.
func ValidateEndpoints(eps []Endpoint) error {
	if len(eps) == 0 {
		return nil
	}

	for _, ep := range eps {
		if ep.SocketPath == "" && (ep.Port < 1 || ep.Port > 65535) {
			return errors.New("Port must be between 0 and 65536")
		}
	}

	anyHas, allHave := false, true
	for _, ep := range eps {
		if ep.HasPriority {
			anyHas = true
		} else {
			allHave = false
		}
	}
	if anyHas && !allHave {
		return errors.New("You must either assign no priority to any of the routers or give a priority for every router")
	}

	if anyHas {
		for _, ep := range eps {
			if ep.Priority < 0 || ep.Priority > 100 {
				return errors.New("The priorities must be between 0 and 100")
			}
		}
	}

	return nil
}

// sortedByPriority returns a copy of eps ordered priority-descending,
// ties (and the fully-unprioritized case, where every entry compares
// equal) broken by original list order -- implicit priority follows
// list order, first entry highest.
func sortedByPriority(eps []Endpoint) []Endpoint {
	out := make([]Endpoint, len(eps))
	copy(out, eps)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}
