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
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Warp-net/warpvote/core/bridge"
	"github.com/Warp-net/warpvote/core/metrics"
	"github.com/Warp-net/warpvote/core/warpnet"
	"github.com/Warp-net/warpvote/domain"
	"github.com/Warp-net/warpvote/event"
	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var connSeq atomic.Uint64

// connection is the handle of one engine session. Its context is cancelled on Disconnect.
type connection struct {
	id uint64
	// gen is the bridge generation events of this connection are delivered to
	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc
	server   domain.PeerAddress
	identity domain.Identity
}

type Session struct {
	mx    sync.RWMutex
	state State
	conn  *connection

	engine    Engine
	bridge    *bridge.Bridge
	topics    *topicRegistry
	votations *votationQueue
	inflight  singleflight.Group

	requestTimeout time.Duration
	metrics        *metrics.Metrics
}

func New(engine Engine, opts *Options) *Session {
	if engine == nil {
		panic("session: nil engine")
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	var collector bridge.MetricsCollector
	if opts.metrics != nil {
		collector = opts.metrics
	}
	return &Session{
		state:          Disconnected,
		engine:         engine,
		bridge:         bridge.New(opts.eventBuffer, collector),
		topics:         newTopicRegistry(),
		votations:      newVotationQueue(),
		requestTimeout: opts.requestTimeout,
		metrics:        opts.metrics,
	}
}

func (s *Session) State() State {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.state
}

// ServerAddress reports the bootstrap peer of the current connection.
func (s *Session) ServerAddress() (domain.PeerAddress, bool) {
	s.mx.RLock()
	defer s.mx.RUnlock()
	if s.conn == nil {
		return domain.PeerAddress{}, false
	}
	return s.conn.server, true
}

// SetListener replaces the single event listener. A nil listener clears the slot.
func (s *Session) SetListener(l bridge.Listener) {
	s.bridge.SetListener(l)
}

func (s *Session) Connect(ctx context.Context, serverAddress, peerID, username string) (err error) {
	defer func() { s.metrics.Request(opConnect, err) }()

	addr, err := validateConnect(serverAddress, peerID, username)
	if err != nil {
		return err
	}

	s.mx.Lock()
	if s.state != Disconnected {
		s.mx.Unlock()
		return ErrAlreadyConnected
	}
	connCtx, cancel := context.WithCancel(context.Background())
	conn := &connection{
		id:       connSeq.Add(1),
		ctx:      connCtx,
		cancel:   cancel,
		server:   addr,
		identity: domain.Identity{Username: strings.TrimSpace(username)},
	}
	s.state = Connecting
	s.conn = conn
	s.topics.reset()
	s.votations.reset()
	s.metrics.SetVotationsPending(0)
	conn.gen = s.bridge.Start()
	s.engine.RegisterEventSink(s.sinkFor(conn))
	s.mx.Unlock()

	log.Infof("session: connecting to %s as %s", addr.String(), conn.identity.Username)

	err = s.do(ctx, conn, opConnect, func(ctx context.Context) error {
		return s.engine.Connect(ctx, addr.Addr, addr.PeerID, conn.identity.Username)
	})
	if err != nil {
		s.abort(ctx, conn)
		log.Errorf("session: connect failed: %v", err)
		return err
	}

	s.mx.Lock()
	if s.conn != conn {
		s.mx.Unlock()
		return ErrDisconnected
	}
	s.state = Connected
	s.mx.Unlock()

	log.Infof("session: connected to %s", addr.String())
	return nil
}

func validateConnect(serverAddress, peerID, username string) (domain.PeerAddress, error) {
	switch {
	case strings.TrimSpace(serverAddress) == "":
		return domain.PeerAddress{}, newValidationError("serverAddress", "must not be blank")
	case strings.TrimSpace(peerID) == "":
		return domain.PeerAddress{}, newValidationError("peerId", "must not be blank")
	case strings.TrimSpace(username) == "":
		return domain.PeerAddress{}, newValidationError("username", "must not be blank")
	}
	if _, err := warpnet.NewMultiaddr(strings.TrimSpace(serverAddress)); err != nil {
		return domain.PeerAddress{}, newValidationError("serverAddress", err.Error())
	}
	if warpnet.FromStringToPeerID(strings.TrimSpace(peerID)) == "" {
		return domain.PeerAddress{}, newValidationError("peerId", "not a valid peer id")
	}
	addr, err := warpnet.ParsePeerAddress(serverAddress, peerID)
	if err != nil {
		return domain.PeerAddress{}, newValidationError("serverAddress", err.Error())
	}
	return addr, nil
}

// abort rolls a failed connect back to Disconnected unless another call already did.
func (s *Session) abort(ctx context.Context, conn *connection) {
	s.mx.Lock()
	if s.conn != conn {
		s.mx.Unlock()
		return
	}
	exited := s.teardown(conn)
	s.mx.Unlock()

	s.bridge.Wait(ctx, exited)
}

// teardown must be called with s.mx held.
func (s *Session) teardown(conn *connection) <-chan struct{} {
	s.conn = nil
	s.state = Disconnected
	conn.cancel()
	exited := s.bridge.Halt()
	s.topics.reset()
	s.votations.reset()
	s.metrics.SetVotationsPending(0)
	return exited
}

// Disconnect is idempotent. In-flight requests of the torn down connection
// return ErrDisconnected and no listener invocation starts after it returns.
func (s *Session) Disconnect(ctx context.Context) (err error) {
	s.mx.Lock()
	conn := s.conn
	if conn == nil {
		s.mx.Unlock()
		return nil
	}
	exited := s.teardown(conn)
	s.mx.Unlock()

	defer func() { s.metrics.Request(opDisconnect, err) }()

	s.bridge.Wait(ctx, exited)

	if ctx == nil {
		ctx = context.Background()
	}
	reqCtx := context.WithoutCancel(ctx)
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(reqCtx, s.requestTimeout)
		defer cancel()
	}
	if err = s.engine.Disconnect(reqCtx); err != nil {
		log.Warnf("session: engine disconnect: %v", err)
		return wrapEngineError(opDisconnect, err)
	}
	log.Infof("session: disconnected from %s", conn.server.String())
	return nil
}

func (s *Session) connected() (*connection, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()
	if s.state != Connected || s.conn == nil {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}

// RegisterTopic subscribes to name. Registering a known topic is a no-op.
func (s *Session) RegisterTopic(ctx context.Context, name string) (err error) {
	defer func() { s.metrics.Request(opRegister, err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return newValidationError("name", "must not be blank")
	}
	conn, err := s.connected()
	if err != nil {
		return err
	}
	if s.topics.has(name) {
		return nil
	}

	key := fmt.Sprintf("%d/%s", conn.id, name)
	_, err, _ = s.inflight.Do(key, func() (any, error) {
		if s.topics.has(name) {
			return nil, nil
		}
		err := s.do(ctx, conn, opRegister, func(ctx context.Context) error {
			return s.engine.RegisterTopic(ctx, name)
		})
		if err != nil {
			return nil, err
		}
		s.addTopic(conn, name)
		return nil, nil
	})
	return err
}

// CreateTopic announces a brand new topic to the network and subscribes to it.
func (s *Session) CreateTopic(ctx context.Context, name string) (err error) {
	defer func() { s.metrics.Request(opCreate, err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return newValidationError("name", "must not be blank")
	}
	conn, err := s.connected()
	if err != nil {
		return err
	}
	if s.topics.has(name) {
		return ErrTopicAlreadyExists
	}
	err = s.do(ctx, conn, opCreate, func(ctx context.Context) error {
		return s.engine.CreateTopic(ctx, name)
	})
	if err != nil {
		return err
	}
	s.addTopic(conn, name)
	return nil
}

// UnregisterTopic leaves name. Leaving a topic that is not registered is a no-op.
func (s *Session) UnregisterTopic(ctx context.Context, name string) (err error) {
	defer func() { s.metrics.Request(opUnregister, err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return newValidationError("name", "must not be blank")
	}
	conn, err := s.connected()
	if err != nil {
		return err
	}
	if !s.topics.has(name) {
		return nil
	}
	err = s.do(ctx, conn, opUnregister, func(ctx context.Context) error {
		return s.engine.UnregisterTopic(ctx, name)
	})
	if err != nil {
		return err
	}

	s.mx.RLock()
	if s.conn == conn {
		s.topics.remove(name)
	}
	s.mx.RUnlock()
	log.Infof("session: left topic %s", name)
	return nil
}

// TopicPeers lists the peers currently reachable on topic.
func (s *Session) TopicPeers(ctx context.Context, topic string) (_ []string, err error) {
	defer func() { s.metrics.Request(opPeers, err) }()

	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, newValidationError("topic", "must not be blank")
	}
	conn, err := s.connected()
	if err != nil {
		return nil, err
	}
	peers, err := call(s, ctx, conn, opPeers, func(ctx context.Context) ([]string, error) {
		return s.engine.TopicPeers(ctx, topic)
	})
	if err != nil {
		return nil, err
	}
	if peers == nil {
		peers = []string{}
	}
	return peers, nil
}

func (s *Session) addTopic(conn *connection, name string) {
	s.mx.RLock()
	defer s.mx.RUnlock()
	if s.conn != conn {
		return
	}
	s.topics.add(name)
}

// Topics is a local sorted snapshot.
func (s *Session) Topics() []string {
	return s.topics.list()
}

// Reputations relays the engine's per-peer scores for topic. No data yields an empty slice.
func (s *Session) Reputations(ctx context.Context, topic string) (_ []domain.Reputation, err error) {
	defer func() { s.metrics.Request(opReputation, err) }()

	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, newValidationError("topic", "must not be blank")
	}
	conn, err := s.connected()
	if err != nil {
		return nil, err
	}
	reps, err := call(s, ctx, conn, opReputation, func(ctx context.Context) ([]domain.Reputation, error) {
		return s.engine.QueryReputations(ctx, topic)
	})
	if err != nil {
		return nil, err
	}
	if reps == nil {
		reps = []domain.Reputation{}
	}
	return reps, nil
}

// Reputation reports the score of a single peer on topic.
func (s *Session) Reputation(ctx context.Context, topic, peerID string) (_ domain.Reputation, err error) {
	defer func() { s.metrics.Request(opReputation, err) }()

	topic = strings.TrimSpace(topic)
	peerID = strings.TrimSpace(peerID)
	switch {
	case topic == "":
		return domain.Reputation{}, newValidationError("topic", "must not be blank")
	case peerID == "":
		return domain.Reputation{}, newValidationError("peerId", "must not be blank")
	case warpnet.FromStringToPeerID(peerID) == "":
		return domain.Reputation{}, newValidationError("peerId", "not a valid peer id")
	}
	conn, err := s.connected()
	if err != nil {
		return domain.Reputation{}, err
	}
	return call(s, ctx, conn, opReputation, func(ctx context.Context) (domain.Reputation, error) {
		return s.engine.QueryReputation(ctx, topic, peerID)
	})
}

// VotationStatus reports where a votation stands, including one submitted by the local peer.
func (s *Session) VotationStatus(ctx context.Context, votationID domain.ID) (_ domain.VotationStatus, err error) {
	defer func() { s.metrics.Request(opStatus, err) }()

	votationID = strings.TrimSpace(votationID)
	if votationID == "" {
		return domain.VotationStatus{}, newValidationError("votationId", "must not be blank")
	}
	conn, err := s.connected()
	if err != nil {
		return domain.VotationStatus{}, err
	}
	st, err := call(s, ctx, conn, opStatus, func(ctx context.Context) (domain.VotationStatus, error) {
		return s.engine.VotationStatus(ctx, votationID)
	})
	if errors.Is(err, warpnet.ErrVotationNotFound) {
		return domain.VotationStatus{}, ErrUnknownVotation
	}
	if err != nil {
		return domain.VotationStatus{}, err
	}
	if st.Voters == nil {
		st.Voters = []string{}
	}
	return st, nil
}

// Voters lists the jury of a votation. An unknown votation has no voters.
func (s *Session) Voters(ctx context.Context, votationID domain.ID) ([]string, error) {
	st, err := s.VotationStatus(ctx, votationID)
	if errors.Is(err, ErrUnknownVotation) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return st.Voters, nil
}

// PendingToEvaluate lists votations awaiting a local decision in arrival order.
func (s *Session) PendingToEvaluate() []domain.Votation {
	return s.votations.snapshot()
}

func (s *Session) PendingForTopic(topic string) []domain.Votation {
	return s.votations.topic(topic)
}

// CastVote forwards the local decision on a pending votation.
// The votation leaves the queue unless the engine rejects the vote.
func (s *Session) CastVote(ctx context.Context, votationID domain.ID, d domain.Decision) (err error) {
	defer func() { s.metrics.Request(opVote, err) }()

	votationID = strings.TrimSpace(votationID)
	if votationID == "" {
		return newValidationError("votationId", "must not be blank")
	}
	if !d.IsValid() {
		return newValidationError("decision", fmt.Sprintf("unknown decision %q", d))
	}
	conn, err := s.connected()
	if err != nil {
		return err
	}
	entry, ok := s.votations.take(votationID)
	if !ok {
		return ErrUnknownVotation
	}
	s.metrics.SetVotationsPending(s.votations.len())

	err = s.do(ctx, conn, opVote, func(ctx context.Context) error {
		return s.engine.SubmitVote(ctx, votationID, d)
	})
	if err != nil {
		s.mx.RLock()
		if s.conn == conn {
			s.votations.restore(entry)
			s.metrics.SetVotationsPending(s.votations.len())
		}
		s.mx.RUnlock()
		return err
	}
	log.Infof("session: voted %s on %s", d, votationID)
	return nil
}

// SubmitContent asks the network to validate content on topic and returns the votation id.
func (s *Session) SubmitContent(ctx context.Context, topic, content string) (_ domain.ID, err error) {
	defer func() { s.metrics.Request(opSubmit, err) }()

	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", newValidationError("topic", "must not be blank")
	}
	if strings.TrimSpace(content) == "" {
		return "", newValidationError("content", "must not be blank")
	}
	conn, err := s.connected()
	if err != nil {
		return "", err
	}
	return call(s, ctx, conn, opSubmit, func(ctx context.Context) (string, error) {
		return s.engine.SubmitContent(ctx, topic, content)
	})
}

// Publish sends a plain message to topic subscribers.
func (s *Session) Publish(ctx context.Context, topic string, payload []byte) (err error) {
	defer func() { s.metrics.Request(opPublish, err) }()

	topic = strings.TrimSpace(topic)
	if topic == "" {
		return newValidationError("topic", "must not be blank")
	}
	if len(payload) == 0 {
		return newValidationError("message", "must not be empty")
	}
	conn, err := s.connected()
	if err != nil {
		return err
	}
	return s.do(ctx, conn, opPublish, func(ctx context.Context) error {
		return s.engine.Publish(ctx, topic, payload)
	})
}

func (s *Session) ValidatedContent(ctx context.Context) (_ []domain.ValidatedContent, err error) {
	defer func() { s.metrics.Request(opValidated, err) }()

	conn, err := s.connected()
	if err != nil {
		return nil, err
	}
	contents, err := call(s, ctx, conn, opValidated, func(ctx context.Context) ([]domain.ValidatedContent, error) {
		return s.engine.ValidatedContent(ctx)
	})
	if err != nil {
		return nil, err
	}
	if contents == nil {
		contents = []domain.ValidatedContent{}
	}
	return contents, nil
}

func (s *Session) do(ctx context.Context, conn *connection, op string, fn func(ctx context.Context) error) error {
	_, err := call(s, ctx, conn, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

type result[T any] struct {
	value T
	err   error
}

// call runs fn on its own goroutine and waits for the result, the caller,
// the connection or the request timeout, whichever comes first.
func call[T any](s *Session, ctx context.Context, conn *connection, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}
	if conn.ctx.Err() != nil {
		return zero, ErrDisconnected
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(conn.ctx, cancel)
	defer stop()

	if s.requestTimeout > 0 {
		var cancelTimeout context.CancelFunc
		reqCtx, cancelTimeout = context.WithTimeout(reqCtx, s.requestTimeout)
		defer cancelTimeout()
	}

	resCh := make(chan result[T], 1)
	go func() {
		v, err := fn(reqCtx)
		resCh <- result[T]{value: v, err: err}
	}()

	select {
	case res := <-resCh:
		if res.err == nil {
			return res.value, nil
		}
		if conn.ctx.Err() != nil {
			return zero, ErrDisconnected
		}
		return zero, wrapEngineError(op, res.err)
	case <-conn.ctx.Done():
		return zero, ErrDisconnected
	case <-reqCtx.Done():
		if conn.ctx.Err() != nil {
			return zero, ErrDisconnected
		}
		cause := reqCtx.Err()
		if errors.Is(cause, context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, &EngineError{Op: op, Reason: "request timed out", Err: cause}
		}
		return zero, wrapEngineError(op, cause)
	}
}

// sinkFor binds engine events to conn; events outliving it are discarded.
// The bridge generation check covers a sink racing a reconnect.
func (s *Session) sinkFor(conn *connection) func(domain.Event) {
	return func(ev domain.Event) {
		if conn.ctx.Err() != nil {
			return
		}
		if ev.ReceivedAt.IsZero() {
			ev.ReceivedAt = time.Now()
		}

		msg, ok := event.DecodeContentMessage(ev.Payload)
		if ok {
			switch msg.Type {
			case event.VoteLeaderRequestType:
				s.enqueue(conn, ev, msg)
				return
			case event.IncludeNewValidatedContentType:
				s.resolve(conn, msg.IdVotation)
			}
		}
		s.bridge.DeliverTo(conn.gen, ev)
	}
}

func (s *Session) resolve(conn *connection, votationID domain.ID) {
	s.mx.RLock()
	defer s.mx.RUnlock()
	if s.conn != conn {
		return
	}
	if s.votations.remove(votationID) {
		log.Infof("session: votation %s resolved by consensus", votationID)
		s.metrics.SetVotationsPending(s.votations.len())
	}
}

func (s *Session) enqueue(conn *connection, ev domain.Event, msg event.ContentMessage) {
	topic := msg.Topic
	if topic == "" {
		topic = ev.Topic
	}
	v := domain.Votation{
		ID:         msg.IdVotation,
		Topic:      topic,
		ContentRef: msg.ContentRef,
		Content:    msg.Content,
		Proposer:   msg.PublisherPeerId,
		Leader:     msg.LeaderPeerId,
		Voters:     msg.VotersPeerId,
		State:      domain.VotationPending,
		ReceivedAt: ev.ReceivedAt,
	}

	s.mx.RLock()
	defer s.mx.RUnlock()
	if s.conn != conn {
		return
	}
	if !s.votations.push(v) {
		log.Debugf("session: duplicate votation %s ignored", v.ID)
		return
	}
	s.metrics.SetVotationsPending(s.votations.len())
	log.Infof("session: votation %s queued on topic %s", v.ID, v.Topic)
}
