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
	"cmp"
	"slices"
	"sync"

	"github.com/Warp-net/warpvote/domain"
)

type queuedVotation struct {
	seq      uint64
	votation domain.Votation
}

// votationQueue keeps pending votations FIFO per topic.
// seq records global arrival order across topics.
type votationQueue struct {
	mx      sync.Mutex
	byTopic map[string][]queuedVotation
	index   map[domain.ID]string
	seq     uint64
}

func newVotationQueue() *votationQueue {
	return &votationQueue{
		byTopic: make(map[string][]queuedVotation),
		index:   make(map[domain.ID]string),
	}
}

// push reports false for an id already queued.
func (q *votationQueue) push(v domain.Votation) bool {
	q.mx.Lock()
	defer q.mx.Unlock()

	if _, ok := q.index[v.ID]; ok {
		return false
	}
	q.seq++
	v.State = domain.VotationPending
	q.byTopic[v.Topic] = append(q.byTopic[v.Topic], queuedVotation{seq: q.seq, votation: v})
	q.index[v.ID] = v.Topic
	return true
}

// take removes the votation and returns it with its arrival position.
func (q *votationQueue) take(id domain.ID) (queuedVotation, bool) {
	q.mx.Lock()
	defer q.mx.Unlock()

	topic, ok := q.index[id]
	if !ok {
		return queuedVotation{}, false
	}
	entries := q.byTopic[topic]
	i := slices.IndexFunc(entries, func(e queuedVotation) bool { return e.votation.ID == id })
	if i < 0 {
		delete(q.index, id)
		return queuedVotation{}, false
	}
	entry := entries[i]
	entries = slices.Delete(entries, i, i+1)
	if len(entries) == 0 {
		delete(q.byTopic, topic)
	} else {
		q.byTopic[topic] = entries
	}
	delete(q.index, id)
	return entry, true
}

// restore puts a taken votation back at its original position.
func (q *votationQueue) restore(e queuedVotation) {
	q.mx.Lock()
	defer q.mx.Unlock()

	id := e.votation.ID
	if _, ok := q.index[id]; ok {
		return
	}
	topic := e.votation.Topic
	entries := q.byTopic[topic]
	i, _ := slices.BinarySearchFunc(entries, e.seq, func(x queuedVotation, seq uint64) int {
		return cmp.Compare(x.seq, seq)
	})
	q.byTopic[topic] = slices.Insert(entries, i, e)
	q.index[id] = topic
}

func (q *votationQueue) remove(id domain.ID) bool {
	_, ok := q.take(id)
	return ok
}

func (q *votationQueue) has(id domain.ID) bool {
	q.mx.Lock()
	defer q.mx.Unlock()
	_, ok := q.index[id]
	return ok
}

func (q *votationQueue) len() int {
	q.mx.Lock()
	defer q.mx.Unlock()
	return len(q.index)
}

// snapshot lists every pending votation in global arrival order.
func (q *votationQueue) snapshot() []domain.Votation {
	q.mx.Lock()
	all := make([]queuedVotation, 0, len(q.index))
	for _, entries := range q.byTopic {
		all = append(all, entries...)
	}
	q.mx.Unlock()

	slices.SortFunc(all, func(a, b queuedVotation) int {
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([]domain.Votation, 0, len(all))
	for _, e := range all {
		v := e.votation
		v.Voters = slices.Clone(v.Voters)
		out = append(out, v)
	}
	return out
}

func (q *votationQueue) topic(name string) []domain.Votation {
	q.mx.Lock()
	defer q.mx.Unlock()
	entries := q.byTopic[name]
	out := make([]domain.Votation, 0, len(entries))
	for _, e := range entries {
		v := e.votation
		v.Voters = slices.Clone(v.Voters)
		out = append(out, v)
	}
	return out
}

func (q *votationQueue) reset() {
	q.mx.Lock()
	clear(q.byTopic)
	clear(q.index)
	q.mx.Unlock()
}
