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

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Warp-net/warpvote/core/warpnet"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	log "github.com/sirupsen/logrus"
)

const publishTimeout = 10 * time.Second

type messageHandler func(topic string, msg *warpnet.WarpMessage)

type gossip struct {
	ctx    context.Context
	cancel context.CancelFunc
	pubsub *pubsub.PubSub
	node   warpnet.P2PNode

	mx               *sync.RWMutex
	subs             map[string]*pubsub.Subscription
	relayCancelFuncs map[string]pubsub.RelayCancelFunc
	topics           map[string]*pubsub.Topic
	handler          messageHandler
	isRunning        *atomic.Bool
	wg               sync.WaitGroup
}

func newGossip(ctx context.Context, handler messageHandler) *gossip {
	ctx, cancel := context.WithCancel(ctx)
	return &gossip{
		ctx:              ctx,
		cancel:           cancel,
		mx:               new(sync.RWMutex),
		subs:             map[string]*pubsub.Subscription{},
		topics:           map[string]*pubsub.Topic{},
		relayCancelFuncs: map[string]pubsub.RelayCancelFunc{},
		handler:          handler,
		isRunning:        new(atomic.Bool),
	}
}

func (g *gossip) run(node warpnet.P2PNode) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gossip: recovered from panic: %v", r)
		}
	}()
	if g == nil || node == nil {
		return warpnet.WarpError("gossip: service not initialized properly")
	}
	if g.isRunning.Load() {
		return errors.New("gossip already running")
	}
	g.node = node

	g.pubsub, err = pubsub.NewGossipSub(g.ctx, node)
	if err != nil {
		return err
	}
	g.isRunning.Store(true)

	log.Infoln("gossip: started")
	return nil
}

func (g *gossip) joinLocked(topicName string) (*pubsub.Topic, error) {
	topic, ok := g.topics[topicName]
	if ok {
		return topic, nil
	}
	topic, err := g.pubsub.Join(topicName)
	if err != nil {
		return nil, err
	}
	g.topics[topicName] = topic
	return topic, nil
}

func (g *gossip) subscribe(topics ...string) (err error) {
	if g == nil || !g.isRunning.Load() {
		return warpnet.WarpError("gossip: service not initialized")
	}
	g.mx.Lock()
	defer g.mx.Unlock()

	for _, name := range topics {
		name = strings.TrimSpace(name)
		if name == "" {
			return warpnet.WarpError("gossip: topic name is empty")
		}
		if _, ok := g.subs[name]; ok {
			continue
		}

		topic, err := g.joinLocked(name)
		if err != nil {
			return err
		}

		relayCancel, err := topic.Relay()
		if err != nil {
			return err
		}

		sub, err := topic.Subscribe()
		if err != nil {
			relayCancel()
			return err
		}

		log.Infof("gossip: subscribed to topic: %s", name)

		g.relayCancelFuncs[name] = relayCancel
		g.subs[name] = sub

		g.wg.Add(1)
		go g.listen(name, sub)
	}
	return nil
}

func (g *gossip) listen(topicName string, sub *pubsub.Subscription) {
	defer g.wg.Done()

	selfID := g.node.ID()
	for {
		msg, err := sub.Next(g.ctx)
		if errors.Is(err, pubsub.ErrSubscriptionCancelled) ||
			errors.Is(err, context.Canceled) ||
			errors.Is(err, context.DeadlineExceeded) {
			log.Debugf("gossip: listener for %s stopped", topicName)
			return
		}
		if err != nil {
			log.Errorf("gossip: failed to listen subscription to topic %s: %v", topicName, err)
			return
		}
		if msg == nil || msg.GetFrom() == selfID {
			continue
		}
		g.handler(topicName, msg)
	}
}

func (g *gossip) unsubscribe(topics ...string) (err error) {
	if g == nil || !g.isRunning.Load() {
		return warpnet.WarpError("gossip: service not initialized")
	}
	g.mx.Lock()
	defer g.mx.Unlock()

	for _, topicName := range topics {
		if sub, ok := g.subs[topicName]; ok {
			sub.Cancel()
			delete(g.subs, topicName)
		}
		if relayCancel, ok := g.relayCancelFuncs[topicName]; ok {
			relayCancel()
			delete(g.relayCancelFuncs, topicName)
		}
		topic, ok := g.topics[topicName]
		if !ok {
			continue
		}
		if err = topic.Close(); err != nil {
			log.Warnf("gossip: close topic %s: %v", topicName, err)
		}
		delete(g.topics, topicName)
	}
	return nil
}

func (g *gossip) isSubscribed(topicName string) bool {
	g.mx.RLock()
	defer g.mx.RUnlock()
	_, ok := g.subs[topicName]
	return ok
}

func (g *gossip) subscriptions() int {
	g.mx.RLock()
	defer g.mx.RUnlock()
	return len(g.subs)
}

func (g *gossip) topicPeers(topicName string) []warpnet.WarpPeerID {
	g.mx.RLock()
	defer g.mx.RUnlock()

	topic, ok := g.topics[topicName]
	if !ok {
		return []warpnet.WarpPeerID{}
	}
	return topic.ListPeers()
}

// Publish joins topicName if needed; a publisher does not have to be subscribed.
func (g *gossip) Publish(ctx context.Context, topicName string, data []byte) error {
	if g == nil || !g.isRunning.Load() {
		return warpnet.ErrNodeIsOffline
	}

	g.mx.Lock()
	topic, err := g.joinLocked(topicName)
	g.mx.Unlock()
	if err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, publishTimeout)
		defer cancel()
	}
	err = topic.Publish(ctx, data)
	if err != nil && !errors.Is(err, pubsub.ErrTopicClosed) {
		log.Errorf("gossip: failed to publish to %s: %v", topicName, err)
		return err
	}
	return nil
}

func (g *gossip) isGossipRunning() bool {
	return g != nil && g.isRunning.Load()
}

func (g *gossip) close() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	if !g.isRunning.Load() {
		return
	}

	g.mx.Lock()
	for t := range g.relayCancelFuncs {
		g.relayCancelFuncs[t]()
	}
	for _, sub := range g.subs {
		sub.Cancel()
	}
	for _, topic := range g.topics {
		_ = topic.Close()
	}
	g.isRunning.Store(false)
	g.cancel()

	g.pubsub = nil
	g.relayCancelFuncs = map[string]pubsub.RelayCancelFunc{}
	g.topics = map[string]*pubsub.Topic{}
	g.subs = map[string]*pubsub.Subscription{}
	g.mx.Unlock()

	g.wg.Wait()
	log.Infoln("gossip: closed")
	return
}
