/*

Warpvote - Decentralized Content Validation
Copyright (C) 2025 Vadim Filin, https://github.com/Warp-net,
<github.com.mecdy@passmail.net>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.

Warpvote is provided “as is” without warranty of any kind, either expressed or implied.
Use at your own risk. The maintainers shall not be liable for any damages or data loss
resulting from the use or misuse of this software.
*/

// Copyright 2025 Vadim Filin
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"slices"
	"sync"
)

// topicRegistry is the local view of subscribed topics; it never calls the engine.
type topicRegistry struct {
	mx     sync.RWMutex
	topics map[string]struct{}
}

func newTopicRegistry() *topicRegistry {
	return &topicRegistry{topics: make(map[string]struct{})}
}

func (r *topicRegistry) has(name string) bool {
	r.mx.RLock()
	defer r.mx.RUnlock()
	_, ok := r.topics[name]
	return ok
}

func (r *topicRegistry) add(name string) {
	r.mx.Lock()
	r.topics[name] = struct{}{}
	r.mx.Unlock()
}

func (r *topicRegistry) remove(name string) {
	r.mx.Lock()
	delete(r.topics, name)
	r.mx.Unlock()
}

func (r *topicRegistry) reset() {
	r.mx.Lock()
	clear(r.topics)
	r.mx.Unlock()
}

func (r *topicRegistry) list() []string {
	r.mx.RLock()
	out := make([]string, 0, len(r.topics))
	for name := range r.topics {
		out = append(out, name)
	}
	r.mx.RUnlock()

	slices.Sort(out)
	return out
}
