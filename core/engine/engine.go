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
	"fmt"
	"strconv"
	"sync"
	"time"

	root "github.com/Warp-net/warpvote"
	"github.com/Warp-net/warpvote/core/warpnet"
	"github.com/Warp-net/warpvote/database"
	local "github.com/Warp-net/warpvote/database/local-store"
	"github.com/Warp-net/warpvote/domain"
	"github.com/Warp-net/warpvote/event"
	"github.com/Warp-net/warpvote/security"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/pnet"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	ListenHost string
	ListenPort string
	Seed       string
	// PSK turns the node into a private network member. Empty means public.
	PSK                 security.PSK
	MembersForConsensus int
	MinReputation       float64
	ApproveThreshold    float64
	VotationTTL         time.Duration
}

func DefaultOptions() Options {
	return Options{
		ListenHost:          "0.0.0.0",
		ListenPort:          "0",
		MembersForConsensus: DefaultMembersForConsensus,
		MinReputation:       DefaultMinReputation,
		ApproveThreshold:    DefaultApproveThreshold,
		VotationTTL:         DefaultVotationTTL,
	}
}

// Engine is a libp2p gossipsub node speaking the content validation protocol.
type Engine struct {
	opts  Options
	db    *local.DB
	repos protocolRepos

	mx       sync.RWMutex
	node     warpnet.P2PNode
	gossip   *gossip
	proto    *protocol
	cancel   context.CancelFunc
	username string

	sinkMx sync.RWMutex
	sink   func(domain.Event)
}

func New(db *local.DB, opts Options) *Engine {
	return &Engine{
		opts: opts,
		db:   db,
		repos: protocolRepos{
			topics:      database.NewTopicRepo(db),
			reputations: database.NewReputationRepo(db),
			votations:   database.NewVotationRepo(db),
			contents:    database.NewContentRepo(db),
		},
	}
}

func (e *Engine) RegisterEventSink(sink func(domain.Event)) {
	e.sinkMx.Lock()
	e.sink = sink
	e.sinkMx.Unlock()
}

func (e *Engine) deliver(ev domain.Event) {
	e.sinkMx.RLock()
	sink := e.sink
	e.sinkMx.RUnlock()
	if sink == nil {
		return
	}
	sink(ev)
}

func (e *Engine) identity() (warpnet.WarpPrivateKey, error) {
	if e.opts.Seed == "" {
		return warpnet.GenerateRandomKey()
	}
	raw, err := security.GenerateKeyFromSeed([]byte(e.opts.Seed))
	if err != nil {
		return nil, err
	}
	return warpnet.PrivKeyFromEd25519(raw)
}

func (e *Engine) Connect(ctx context.Context, serverAddress, peerID, username string) error {
	e.mx.Lock()
	defer e.mx.Unlock()

	if e.node != nil {
		return warpnet.WarpError("engine: already connected")
	}
	if e.db.IsClosed() {
		return local.ErrNotRunning
	}

	bootstrap, err := warpnet.ParsePeerAddress(serverAddress, peerID)
	if err != nil {
		return err
	}
	info, err := warpnet.AddrInfoFromPeerAddress(bootstrap)
	if err != nil {
		return err
	}

	privKey, err := e.identity()
	if err != nil {
		return fmt.Errorf("engine: identity: %w", err)
	}

	p2pOpts := []libp2p.Option{
		libp2p.Identity(privKey),
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/%s/tcp/%s", e.opts.ListenHost, e.opts.ListenPort)),
		libp2p.Security(warpnet.NoiseID, warpnet.NewNoise),
		libp2p.Transport(warpnet.NewTCPTransport),
		libp2p.UserAgent(fmt.Sprintf("%s/%s", warpnet.WarpnetName, root.GetVersion())),
		libp2p.Ping(true),
		libp2p.DisableRelay(),
	}
	if len(e.opts.PSK) > 0 {
		p2pOpts = append(p2pOpts, libp2p.PrivateNetwork(pnet.PSK(e.opts.PSK)))
	}
	node, err := warpnet.NewP2PNode(p2pOpts...)
	if err != nil {
		return fmt.Errorf("engine: node: %w", err)
	}

	if err := node.Connect(ctx, info); err != nil {
		_ = node.Close()
		return fmt.Errorf("engine: bootstrap %s: %w", bootstrap.String(), err)
	}

	engineCtx, cancel := context.WithCancel(context.Background())
	selfID := node.ID().String()

	g := newGossip(engineCtx, nil)
	proto := newProtocol(
		protocolConfig{
			self:                selfID,
			membersForConsensus: e.opts.MembersForConsensus,
			minReputation:       e.opts.MinReputation,
			approveThreshold:    e.opts.ApproveThreshold,
			votationTTL:         e.opts.VotationTTL,
		},
		func(data []byte) (string, error) { return security.Sign(privKey, data) },
		g,
		e.deliver,
		e.repos,
	)
	g.handler = func(topic string, msg *warpnet.WarpMessage) {
		proto.handle(engineCtx, topic, msg.GetFrom().String(), msg.GetData())
	}

	if err := g.run(node); err != nil {
		cancel()
		_ = node.Close()
		return err
	}
	if err := g.subscribe(event.TopicsTopic); err != nil {
		_ = g.close()
		cancel()
		_ = node.Close()
		return err
	}

	e.node, e.gossip, e.proto, e.cancel, e.username = node, g, proto, cancel, username
	log.Infof("engine: %s connected to %s as %s", selfID, bootstrap.String(), username)
	return nil
}

func (e *Engine) Disconnect(context.Context) error {
	e.mx.Lock()
	defer e.mx.Unlock()

	if e.node == nil {
		return nil
	}
	node, g := e.node, e.gossip

	var eg errgroup.Group
	eg.Go(g.close)
	for _, conn := range node.Network().Conns() {
		eg.Go(conn.Close)
	}
	err := eg.Wait()

	e.cancel()
	if closeErr := node.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	e.node, e.gossip, e.proto, e.cancel = nil, nil, nil, nil
	log.Infoln("engine: disconnected")
	return err
}

func (e *Engine) running() (*gossip, *protocol, error) {
	e.mx.RLock()
	defer e.mx.RUnlock()
	if e.node == nil || !e.gossip.isGossipRunning() {
		return nil, nil, warpnet.ErrNodeIsOffline
	}
	return e.gossip, e.proto, nil
}

func (e *Engine) RegisterTopic(_ context.Context, name string) error {
	g, _, err := e.running()
	if err != nil {
		return err
	}
	if err := g.subscribe(name); err != nil {
		return err
	}
	return e.repos.topics.Upsert(domain.TopicRecord{Name: name})
}

// UnregisterTopic leaves name. The topic announcement channel is never left.
func (e *Engine) UnregisterTopic(_ context.Context, name string) error {
	g, _, err := e.running()
	if err != nil {
		return err
	}
	if name == event.TopicsTopic {
		return warpnet.WarpError("engine: cannot leave the topics channel")
	}
	if !g.isSubscribed(name) {
		return nil
	}
	return g.unsubscribe(name)
}

func (e *Engine) CreateTopic(ctx context.Context, name string) error {
	g, proto, err := e.running()
	if err != nil {
		return err
	}
	if err := proto.announceTopic(ctx, name); err != nil {
		return err
	}
	return g.subscribe(name)
}

func (e *Engine) QueryReputations(_ context.Context, topic string) ([]domain.Reputation, error) {
	if _, _, err := e.running(); err != nil {
		return nil, err
	}
	return e.repos.reputations.List(topic)
}

// QueryReputation reports the score of one peer. A peer never scored gets the default.
func (e *Engine) QueryReputation(_ context.Context, topic, peerID string) (domain.Reputation, error) {
	if _, _, err := e.running(); err != nil {
		return domain.Reputation{}, err
	}
	score, err := e.repos.reputations.Lookup(topic, peerID)
	if err != nil {
		return domain.Reputation{}, err
	}
	return domain.Reputation{PeerID: peerID, Topic: topic, Score: score}, nil
}

func (e *Engine) VotationStatus(_ context.Context, votationID string) (domain.VotationStatus, error) {
	_, proto, err := e.running()
	if err != nil {
		return domain.VotationStatus{}, err
	}
	return proto.status(votationID)
}

func (e *Engine) SubmitVote(ctx context.Context, votationID string, d domain.Decision) error {
	_, proto, err := e.running()
	if err != nil {
		return err
	}
	return proto.vote(ctx, votationID, d)
}

func (e *Engine) SubmitContent(ctx context.Context, topic, content string) (string, error) {
	g, proto, err := e.running()
	if err != nil {
		return "", err
	}
	// interest responses arrive on the content topic
	if !g.isSubscribed(topic) {
		if err := g.subscribe(topic); err != nil {
			return "", err
		}
	}
	return proto.submit(ctx, topic, content)
}

func (e *Engine) Publish(ctx context.Context, topic string, payload []byte) error {
	g, _, err := e.running()
	if err != nil {
		return err
	}
	return g.Publish(ctx, topic, payload)
}

func (e *Engine) ValidatedContent(_ context.Context) ([]domain.ValidatedContent, error) {
	var (
		all    = []domain.ValidatedContent{}
		limit  = uint64(100)
		cursor string
	)
	for {
		page, next, err := e.repos.contents.ListValidated(&limit, &cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == local.EndCursor {
			return all, nil
		}
		cursor = next
	}
}

// PeerID reports the local peer id while connected.
func (e *Engine) PeerID() string {
	e.mx.RLock()
	defer e.mx.RUnlock()
	if e.node == nil {
		return ""
	}
	return e.node.ID().String()
}

// TopicPeers lists the peers gossipsub currently knows on topic.
func (e *Engine) TopicPeers(_ context.Context, topic string) ([]string, error) {
	g, _, err := e.running()
	if err != nil {
		return nil, err
	}
	ids := g.topicPeers(topic)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out, nil
}

// Stats merges storage figures with the live node state.
func (e *Engine) Stats() map[string]string {
	stats := e.db.Stats()

	e.mx.RLock()
	defer e.mx.RUnlock()
	if e.node == nil {
		stats["node"] = "offline"
		return stats
	}
	stats["node"] = "online"
	stats["peers"] = strconv.Itoa(len(e.node.Network().Peers()))
	stats["subscriptions"] = strconv.Itoa(e.gossip.subscriptions())
	return stats
}
