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

package bridge

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/Warp-net/warpvote/domain"
	log "github.com/sirupsen/logrus"
)

const DefaultBufferSize = 256

type Listener interface {
	OnEvent(ctx context.Context, ev domain.Event) string
}

type ListenerFunc func(ctx context.Context, ev domain.Event) string

func (f ListenerFunc) OnEvent(ctx context.Context, ev domain.Event) string {
	return f(ctx, ev)
}

type MetricsCollector interface {
	EventDelivered()
	EventDropped(reason string)
	ListenerFailed()
}

type noopMetrics struct{}

func (noopMetrics) EventDelivered()     {}
func (noopMetrics) EventDropped(string) {}
func (noopMetrics) ListenerFailed()     {}

type dispatchKey struct{}

type generation struct {
	id     uint64
	queue  chan domain.Event
	done   chan struct{}
	exited chan struct{}
}

// Bridge hands engine events to at most one listener.
// Events are dispatched sequentially by a single goroutine per generation;
// a generation starts with Start and ends with Halt or Stop.
type Bridge struct {
	mx       sync.RWMutex
	listener Listener
	current  *generation
	lastID   uint64

	bufSize int
	metrics MetricsCollector
}

func New(bufSize int, m MetricsCollector) *Bridge {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	if m == nil {
		m = noopMetrics{}
	}
	return &Bridge{bufSize: bufSize, metrics: m}
}

// SetListener replaces the listener slot. A nil listener clears it.
func (b *Bridge) SetListener(l Listener) {
	b.mx.Lock()
	b.listener = l
	b.mx.Unlock()
	if l == nil {
		log.Debugln("bridge: listener cleared")
		return
	}
	log.Debugln("bridge: listener set")
}

func (b *Bridge) HasListener() bool {
	b.mx.RLock()
	defer b.mx.RUnlock()
	return b.listener != nil
}

func (b *Bridge) IsRunning() bool {
	b.mx.RLock()
	defer b.mx.RUnlock()
	return b.current != nil
}

// Start opens a new delivery generation and returns its id.
// It is a no-op returning the running generation when already running.
func (b *Bridge) Start() uint64 {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.current != nil {
		return b.current.id
	}
	b.lastID++
	g := &generation{
		id:     b.lastID,
		queue:  make(chan domain.Event, b.bufSize),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	b.current = g
	go b.dispatch(g)
	return g.id
}

// Halt clears the listener slot and ends the current generation without waiting.
// The returned channel is closed once the dispatcher of that generation has exited.
func (b *Bridge) Halt() <-chan struct{} {
	b.mx.Lock()
	defer b.mx.Unlock()

	b.listener = nil
	g := b.current
	if g == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	b.current = nil
	close(g.done)
	return g.exited
}

// Wait blocks until exited is closed. A ctx handed to a listener by this bridge
// returns immediately, so a listener may stop the bridge it is called from.
func (b *Bridge) Wait(ctx context.Context, exited <-chan struct{}) {
	if b.isDispatchContext(ctx) {
		return
	}
	<-exited
}

func (b *Bridge) Stop(ctx context.Context) {
	b.Wait(ctx, b.Halt())
}

func (b *Bridge) isDispatchContext(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	owner, ok := ctx.Value(dispatchKey{}).(*Bridge)
	return ok && owner == b
}

// Deliver is safe for concurrent use. Without a listener the event is dropped.
func (b *Bridge) Deliver(ev domain.Event) {
	b.deliver(0, ev)
}

// DeliverTo drops ev unless generation gen is still running.
func (b *Bridge) DeliverTo(gen uint64, ev domain.Event) {
	b.deliver(gen, ev)
}

func (b *Bridge) deliver(gen uint64, ev domain.Event) {
	b.mx.RLock()
	listener, g := b.listener, b.current
	b.mx.RUnlock()

	if gen != 0 && (g == nil || g.id != gen) {
		log.Debugf("bridge: stale generation %d, event on topic %q dropped", gen, ev.Topic)
		b.metrics.EventDropped("stopped")
		return
	}

	if listener == nil {
		log.Debugf("bridge: no listener, event on topic %q dropped", ev.Topic)
		b.metrics.EventDropped("no_listener")
		return
	}
	if g == nil {
		log.Debugf("bridge: not running, event on topic %q dropped", ev.Topic)
		b.metrics.EventDropped("stopped")
		return
	}

	select {
	case g.queue <- ev:
	case <-g.done:
		b.metrics.EventDropped("stopped")
	}
}

func (b *Bridge) dispatch(g *generation) {
	defer close(g.exited)

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), dispatchKey{}, b))
	defer cancel()

	for {
		select {
		case <-g.done:
			return
		case ev := <-g.queue:
			b.invoke(ctx, g, ev)
		}
	}
}

func (b *Bridge) invoke(ctx context.Context, g *generation, ev domain.Event) {
	b.mx.RLock()
	listener, current := b.listener, b.current
	b.mx.RUnlock()

	if current != g {
		b.metrics.EventDropped("stopped")
		return
	}
	if listener == nil {
		log.Debugf("bridge: listener gone, event on topic %q dropped", ev.Topic)
		b.metrics.EventDropped("no_listener")
		return
	}

	ack, err := safeInvoke(ctx, listener, ev)
	if err != nil {
		log.Errorf("bridge: listener failed on topic %q: %v", ev.Topic, err)
		b.metrics.ListenerFailed()
		return
	}
	b.metrics.EventDelivered()
	if ack != "" {
		log.Debugf("bridge: listener ack: %s", ack)
	}
}

func safeInvoke(ctx context.Context, l Listener, ev domain.Event) (ack string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return l.OnEvent(ctx, ev), nil
}
