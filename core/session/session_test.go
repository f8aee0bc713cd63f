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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Warp-net/warpvote/core/bridge"
	"github.com/Warp-net/warpvote/core/warpnet"
	"github.com/Warp-net/warpvote/domain"
	"github.com/Warp-net/warpvote/event"
	"github.com/Warp-net/warpvote/json"
	"github.com/cockroachdb/errors"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

const (
	testServerAddress = "/ip4/127.0.0.1/tcp/9000"
	testUsername      = "Alice"
	testTopic         = "chat-room"
)

type stubEngine struct {
	mx    sync.Mutex
	calls map[string]int
	sink  func(domain.Event)

	connectErr  error
	registerErr error
	createErr   error
	repErr      error
	voteErr     error

	reps     []domain.Reputation
	peers    []string
	statuses map[string]domain.VotationStatus
	blockCh  chan struct{}
}

func newStubEngine() *stubEngine {
	return &stubEngine{calls: make(map[string]int)}
}

func (e *stubEngine) record(name string) {
	e.mx.Lock()
	e.calls[name]++
	e.mx.Unlock()
}

func (e *stubEngine) count(name string) int {
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.calls[name]
}

func (e *stubEngine) wait(ctx context.Context) error {
	e.mx.Lock()
	ch := e.blockCh
	e.mx.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *stubEngine) emit(ev domain.Event) {
	e.mx.Lock()
	sink := e.sink
	e.mx.Unlock()
	if sink != nil {
		sink(ev)
	}
}

func (e *stubEngine) Connect(ctx context.Context, _, _, _ string) error {
	e.record("connect")
	if err := e.wait(ctx); err != nil {
		return err
	}
	return e.connectErr
}

func (e *stubEngine) Disconnect(context.Context) error {
	e.record("disconnect")
	return nil
}

func (e *stubEngine) RegisterTopic(context.Context, string) error {
	e.record("register")
	return e.registerErr
}

func (e *stubEngine) UnregisterTopic(context.Context, string) error {
	e.record("unregister")
	return nil
}

func (e *stubEngine) CreateTopic(context.Context, string) error {
	e.record("create")
	return e.createErr
}

func (e *stubEngine) TopicPeers(context.Context, string) ([]string, error) {
	e.record("peers")
	return e.peers, nil
}

func (e *stubEngine) QueryReputation(_ context.Context, topic, peerID string) (domain.Reputation, error) {
	e.record("reputation")
	if e.repErr != nil {
		return domain.Reputation{}, e.repErr
	}
	return domain.Reputation{PeerID: peerID, Topic: topic, Score: 90}, nil
}

func (e *stubEngine) VotationStatus(_ context.Context, id string) (domain.VotationStatus, error) {
	e.record("status")
	st, ok := e.statuses[id]
	if !ok {
		return domain.VotationStatus{}, warpnet.ErrVotationNotFound
	}
	return st, nil
}

func (e *stubEngine) QueryReputations(ctx context.Context, _ string) ([]domain.Reputation, error) {
	e.record("reputations")
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	return e.reps, e.repErr
}

func (e *stubEngine) SubmitVote(context.Context, string, domain.Decision) error {
	e.record("vote")
	return e.voteErr
}

func (e *stubEngine) SubmitContent(context.Context, string, string) (string, error) {
	e.record("submit")
	return "01J0000000000000000000TEST", nil
}

func (e *stubEngine) Publish(context.Context, string, []byte) error {
	e.record("publish")
	return nil
}

func (e *stubEngine) ValidatedContent(context.Context) ([]domain.ValidatedContent, error) {
	e.record("validated")
	return nil, nil
}

func (e *stubEngine) RegisterEventSink(sink func(domain.Event)) {
	e.mx.Lock()
	e.sink = sink
	e.mx.Unlock()
}

func newPeerID(t *testing.T) string {
	t.Helper()
	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		t.Fatalf("peer id: %v", err)
	}
	return id.String()
}

func voteLeaderRequest(id, topic string, voters ...string) domain.Event {
	msg := event.ContentMessage{
		Type:            event.VoteLeaderRequestType,
		Topic:           topic,
		IdVotation:      id,
		Content:         "content of " + id,
		ContentRef:      "bafkrei" + id,
		PublisherPeerId: "publisher",
		VotersPeerId:    voters,
		LeaderPeerId:    voters[0],
		TtlSecs:         10,
	}
	bt, _ := json.Marshal(msg)
	return domain.Event{Topic: topic, Payload: bt, From: "publisher"}
}

func validated(id string, approved bool) domain.Event {
	bt, _ := json.Marshal(event.NewIncludeNewValidatedContent(id, "bafkreitest", approved))
	return domain.Event{Topic: testTopic, Payload: bt}
}

func ids(vs []domain.Votation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.ID)
	}
	return out
}

type SessionSuite struct {
	suite.Suite

	engine  *stubEngine
	session *Session
	peerID  string
	ctx     context.Context
}

func (s *SessionSuite) SetupTest() {
	s.ctx = context.Background()
	s.engine = newStubEngine()
	s.session = New(s.engine, DefaultOptions().WithEventBuffer(8))
	s.peerID = newPeerID(s.T())
}

func (s *SessionSuite) TearDownTest() {
	s.NoError(s.session.Disconnect(s.ctx))
}

func (s *SessionSuite) connect() {
	s.Require().NoError(s.session.Connect(s.ctx, testServerAddress, s.peerID, testUsername))
}

func (s *SessionSuite) TestConnectRegisterTopicScenario() {
	s.connect()
	s.Equal(Connected, s.session.State())
	s.Empty(s.session.Topics())

	s.Require().NoError(s.session.RegisterTopic(s.ctx, testTopic))
	s.Equal([]string{testTopic}, s.session.Topics())

	addr, ok := s.session.ServerAddress()
	s.True(ok)
	s.Equal(testServerAddress, addr.Addr)
	s.Equal(s.peerID, addr.PeerID)
}

func (s *SessionSuite) TestConnectValidation() {
	cases := []struct {
		name                   string
		address, peer, account string
		field                  string
	}{
		{"blank username", testServerAddress, s.peerID, "  ", "username"},
		{"blank address", "", s.peerID, testUsername, "serverAddress"},
		{"blank peer", testServerAddress, "", testUsername, "peerId"},
		{"bad address", "not-a-multiaddr", s.peerID, testUsername, "serverAddress"},
		{"bad peer", testServerAddress, "12D3KooWnotapeer", testUsername, "peerId"},
		{"peer mismatch", testServerAddress + "/p2p/" + newPeerID(s.T()), s.peerID, testUsername, "serverAddress"},
	}
	for _, c := range cases {
		err := s.session.Connect(s.ctx, c.address, c.peer, c.account)
		var valErr *ValidationError
		s.Require().True(errors.As(err, &valErr), c.name)
		s.Equal(c.field, valErr.Field, c.name)
	}
	s.Zero(s.engine.count("connect"))
	s.Equal(Disconnected, s.session.State())
}

func (s *SessionSuite) TestConnectAcceptsEmbeddedPeerID() {
	s.Require().NoError(s.session.Connect(s.ctx, testServerAddress+"/p2p/"+s.peerID, s.peerID, testUsername))
	addr, _ := s.session.ServerAddress()
	s.Equal(testServerAddress, addr.Addr)
}

func (s *SessionSuite) TestConnectTwiceFails() {
	s.connect()
	err := s.session.Connect(s.ctx, testServerAddress, s.peerID, testUsername)
	s.ErrorIs(err, ErrAlreadyConnected)
	s.Equal(1, s.engine.count("connect"))
}

func (s *SessionSuite) TestConnectFailure() {
	s.engine.connectErr = errors.New("dial refused")

	err := s.session.Connect(s.ctx, testServerAddress, s.peerID, testUsername)
	s.ErrorIs(err, ErrConnectFailed)
	s.Contains(err.Error(), "dial refused")
	s.Equal(Disconnected, s.session.State())

	s.engine.connectErr = nil
	s.connect()
	s.Equal(Connected, s.session.State())
}

func (s *SessionSuite) TestDisconnectIsIdempotent() {
	s.NoError(s.session.Disconnect(s.ctx))
	s.Zero(s.engine.count("disconnect"))

	s.connect()
	s.Require().NoError(s.session.RegisterTopic(s.ctx, testTopic))
	s.NoError(s.session.Disconnect(s.ctx))
	s.NoError(s.session.Disconnect(s.ctx))
	s.Equal(1, s.engine.count("disconnect"))
	s.Equal(Disconnected, s.session.State())
	s.Empty(s.session.Topics())

	s.ErrorIs(s.session.RegisterTopic(s.ctx, testTopic), ErrNotConnected)
	_, err := s.session.Reputations(s.ctx, testTopic)
	s.ErrorIs(err, ErrNotConnected)
}

func (s *SessionSuite) TestReconnectClearsRegistry() {
	s.connect()
	s.Require().NoError(s.session.RegisterTopic(s.ctx, testTopic))
	s.Require().NoError(s.session.Disconnect(s.ctx))

	s.connect()
	s.Empty(s.session.Topics())
	s.Require().NoError(s.session.RegisterTopic(s.ctx, testTopic))
	s.Equal(2, s.engine.count("register"))
}

func (s *SessionSuite) TestRegisterTopicIdempotent() {
	s.connect()
	for range 3 {
		s.Require().NoError(s.session.RegisterTopic(s.ctx, testTopic))
	}
	s.Equal(1, s.engine.count("register"))
	s.Equal([]string{testTopic}, s.session.Topics())
}

func (s *SessionSuite) TestRegisterTopicConcurrent() {
	s.connect()

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.NoError(s.session.RegisterTopic(s.ctx, testTopic))
		}()
	}
	wg.Wait()
	s.Equal(1, s.engine.count("register"))
}

func (s *SessionSuite) TestRegisterTopicValidation() {
	s.connect()
	var valErr *ValidationError
	s.True(errors.As(s.session.RegisterTopic(s.ctx, " "), &valErr))
	s.Zero(s.engine.count("register"))
}

func (s *SessionSuite) TestRegisterTopicEngineFailure() {
	s.connect()
	s.engine.registerErr = errors.New("subscribe failed")

	err := s.session.RegisterTopic(s.ctx, testTopic)
	var engErr *EngineError
	s.Require().True(errors.As(err, &engErr))
	s.Equal("subscribe failed", engErr.Reason)
	s.Empty(s.session.Topics())
}

func (s *SessionSuite) TestUnregisterTopic() {
	s.connect()
	s.Require().NoError(s.session.RegisterTopic(s.ctx, testTopic))

	s.Require().NoError(s.session.UnregisterTopic(s.ctx, testTopic))
	s.Empty(s.session.Topics())
	s.Require().NoError(s.session.UnregisterTopic(s.ctx, testTopic))
	s.Equal(1, s.engine.count("unregister"))

	var valErr *ValidationError
	s.True(errors.As(s.session.UnregisterTopic(s.ctx, " "), &valErr))

	s.Require().NoError(s.session.RegisterTopic(s.ctx, testTopic))
	s.Equal(2, s.engine.count("register"))
}

func (s *SessionSuite) TestTopicPeers() {
	_, err := s.session.TopicPeers(s.ctx, testTopic)
	s.ErrorIs(err, ErrNotConnected)

	s.connect()
	peers, err := s.session.TopicPeers(s.ctx, testTopic)
	s.Require().NoError(err)
	s.NotNil(peers)
	s.Empty(peers)

	s.engine.peers = []string{"peer-a", "peer-b"}
	peers, err = s.session.TopicPeers(s.ctx, testTopic)
	s.Require().NoError(err)
	s.Equal([]string{"peer-a", "peer-b"}, peers)
}

func (s *SessionSuite) TestReputationOfPeer() {
	s.connect()
	other := newPeerID(s.T())

	rep, err := s.session.Reputation(s.ctx, testTopic, other)
	s.Require().NoError(err)
	s.Equal(domain.Reputation{PeerID: other, Topic: testTopic, Score: 90}, rep)

	var valErr *ValidationError
	_, err = s.session.Reputation(s.ctx, testTopic, "not-a-peer")
	s.Require().True(errors.As(err, &valErr))
	s.Equal("peerId", valErr.Field)
	_, err = s.session.Reputation(s.ctx, "", other)
	s.True(errors.As(err, &valErr))
	s.Equal(1, s.engine.count("reputation"))

	s.engine.repErr = errors.New("store unavailable")
	_, err = s.session.Reputation(s.ctx, testTopic, other)
	s.ErrorIs(err, ErrQueryFailed)
}

func (s *SessionSuite) TestVotationStatusAndVoters() {
	s.connect()

	_, err := s.session.VotationStatus(s.ctx, "missing")
	s.ErrorIs(err, ErrUnknownVotation)
	voters, err := s.session.Voters(s.ctx, "missing")
	s.Require().NoError(err)
	s.NotNil(voters)
	s.Empty(voters)

	s.engine.statuses = map[string]domain.VotationStatus{
		"v1": {
			ID:     "v1",
			Topic:  testTopic,
			State:  domain.VotationPending,
			Stage:  domain.StageVoting,
			Leader: "leader",
			Voters: []string{"leader", "other"},
		},
		"v2": {ID: "v2", Topic: testTopic, State: domain.VotationPending, Stage: domain.StageCollecting},
	}
	st, err := s.session.VotationStatus(s.ctx, "v1")
	s.Require().NoError(err)
	s.Equal(domain.StageVoting, st.Stage)
	s.Equal("leader", st.Leader)

	voters, err = s.session.Voters(s.ctx, "v1")
	s.Require().NoError(err)
	s.Equal([]string{"leader", "other"}, voters)

	st, err = s.session.VotationStatus(s.ctx, "v2")
	s.Require().NoError(err)
	s.NotNil(st.Voters)

	var valErr *ValidationError
	_, err = s.session.VotationStatus(s.ctx, " ")
	s.True(errors.As(err, &valErr))

	s.Require().NoError(s.session.Disconnect(s.ctx))
	_, err = s.session.VotationStatus(s.ctx, "v1")
	s.ErrorIs(err, ErrNotConnected)
}

func (s *SessionSuite) TestCreateTopic() {
	s.connect()
	s.Require().NoError(s.session.CreateTopic(s.ctx, "news"))
	s.Equal([]string{"news"}, s.session.Topics())

	s.ErrorIs(s.session.CreateTopic(s.ctx, "news"), ErrTopicAlreadyExists)
	s.Equal(1, s.engine.count("create"))

	s.engine.createErr = ErrTopicAlreadyExists
	s.ErrorIs(s.session.CreateTopic(s.ctx, "sports"), ErrTopicAlreadyExists)
	s.Equal([]string{"news"}, s.session.Topics())
}

func (s *SessionSuite) TestReputations() {
	s.connect()

	reps, err := s.session.Reputations(s.ctx, "unregistered")
	s.Require().NoError(err)
	s.NotNil(reps)
	s.Empty(reps)

	s.engine.reps = []domain.Reputation{
		{PeerID: "b", Topic: testTopic, Score: 70},
		{PeerID: "a", Topic: testTopic, Score: 90},
	}
	reps, err = s.session.Reputations(s.ctx, testTopic)
	s.Require().NoError(err)
	s.Equal(s.engine.reps, reps)

	s.engine.repErr = errors.New("store unavailable")
	_, err = s.session.Reputations(s.ctx, testTopic)
	s.ErrorIs(err, ErrQueryFailed)
	s.Contains(err.Error(), "store unavailable")
}

func (s *SessionSuite) TestDisconnectCancelsInFlightRequest() {
	s.connect()
	s.engine.mx.Lock()
	s.engine.blockCh = make(chan struct{})
	s.engine.mx.Unlock()

	errCh := make(chan error, 1)
	go func() {
		_, err := s.session.Reputations(s.ctx, testTopic)
		errCh <- err
	}()

	s.Eventually(func() bool { return s.engine.count("reputations") == 1 }, time.Second, 5*time.Millisecond)
	s.Require().NoError(s.session.Disconnect(s.ctx))

	select {
	case err := <-errCh:
		s.ErrorIs(err, ErrDisconnected)
	case <-time.After(2 * time.Second):
		s.Fail("in-flight request hung after disconnect")
	}
}

func (s *SessionSuite) TestDisconnectDuringConnect() {
	s.engine.mx.Lock()
	s.engine.blockCh = make(chan struct{})
	s.engine.mx.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.session.Connect(s.ctx, testServerAddress, s.peerID, testUsername)
	}()
	s.Eventually(func() bool { return s.session.State() == Connecting }, time.Second, 5*time.Millisecond)
	s.ErrorIs(s.session.Connect(s.ctx, testServerAddress, s.peerID, testUsername), ErrAlreadyConnected)

	s.Require().NoError(s.session.Disconnect(s.ctx))
	s.ErrorIs(<-errCh, ErrDisconnected)
	s.Equal(Disconnected, s.session.State())
}

func (s *SessionSuite) TestCastVoteUnknownVotation() {
	s.connect()
	s.engine.emit(voteLeaderRequest("v1", testTopic, "leader", "me"))
	before := s.session.PendingToEvaluate()

	err := s.session.CastVote(s.ctx, "missing", domain.Accept)
	s.ErrorIs(err, ErrUnknownVotation)
	s.Equal(before, s.session.PendingToEvaluate())
	s.Zero(s.engine.count("vote"))
}

func (s *SessionSuite) TestCastVoteValidation() {
	s.connect()
	var valErr *ValidationError
	s.True(errors.As(s.session.CastVote(s.ctx, "", domain.Accept), &valErr))
	s.True(errors.As(s.session.CastVote(s.ctx, "v1", domain.Decision("maybe")), &valErr))
	s.Equal("decision", valErr.Field)
}

func (s *SessionSuite) TestCastVoteNotConnected() {
	s.ErrorIs(s.session.CastVote(s.ctx, "v1", domain.Reject), ErrNotConnected)
}

func (s *SessionSuite) TestVotationQueueOrderAndVote() {
	s.connect()
	rec := make(chan domain.Event, 8)
	s.session.SetListener(bridge.ListenerFunc(func(_ context.Context, ev domain.Event) string {
		rec <- ev
		return ""
	}))

	s.engine.emit(voteLeaderRequest("v1", testTopic, "leader"))
	s.engine.emit(voteLeaderRequest("v2", "news", "leader"))
	s.engine.emit(voteLeaderRequest("v3", testTopic, "leader"))
	s.engine.emit(voteLeaderRequest("v1", testTopic, "leader"))

	s.Equal([]string{"v1", "v2", "v3"}, ids(s.session.PendingToEvaluate()))
	s.Equal([]string{"v1", "v3"}, ids(s.session.PendingForTopic(testTopic)))
	first := s.session.PendingToEvaluate()[0]
	s.Equal(domain.VotationPending, first.State)
	s.Equal("bafkreiv1", first.ContentRef)
	s.Equal("content of v1", first.Content)

	s.Require().NoError(s.session.CastVote(s.ctx, "v3", domain.Accept))
	s.Equal([]string{"v1", "v2"}, ids(s.session.PendingToEvaluate()))
	s.Equal(1, s.engine.count("vote"))

	// proposals are consumed by the queue, not forwarded
	select {
	case ev := <-rec:
		s.Failf("unexpected event", "%s", ev.Message())
	case <-time.After(20 * time.Millisecond):
	}
}

func (s *SessionSuite) TestCastVoteEngineFailureRestoresPosition() {
	s.connect()
	s.engine.emit(voteLeaderRequest("v1", testTopic, "leader"))
	s.engine.emit(voteLeaderRequest("v2", testTopic, "leader"))
	s.engine.emit(voteLeaderRequest("v3", testTopic, "leader"))

	s.engine.voteErr = errors.New("publish failed")
	err := s.session.CastVote(s.ctx, "v2", domain.Reject)
	var engErr *EngineError
	s.Require().True(errors.As(err, &engErr))
	s.Equal([]string{"v1", "v2", "v3"}, ids(s.session.PendingToEvaluate()))
}

func (s *SessionSuite) TestConsensusResultResolvesVotation() {
	s.connect()
	got := make(chan domain.Event, 1)
	s.session.SetListener(bridge.ListenerFunc(func(_ context.Context, ev domain.Event) string {
		got <- ev
		return ""
	}))

	s.engine.emit(voteLeaderRequest("v1", testTopic, "leader"))
	s.Len(s.session.PendingToEvaluate(), 1)

	s.engine.emit(validated("v1", true))
	s.Empty(s.session.PendingToEvaluate())

	select {
	case ev := <-got:
		msg, ok := event.DecodeContentMessage(ev.Payload)
		s.True(ok)
		s.Equal(event.IncludeNewValidatedContentType, msg.Type)
	case <-time.After(2 * time.Second):
		s.Fail("consensus result not forwarded")
	}
}

func (s *SessionSuite) TestConcurrentDeliveryExactlyOnce() {
	s.connect()

	const (
		producers = 8
		perProd   = 50
		total     = producers * perProd
	)
	var (
		mx   sync.Mutex
		seen = make(map[string]int)
		n    atomic.Int64
		all  = make(chan struct{})
	)
	s.session.SetListener(bridge.ListenerFunc(func(_ context.Context, ev domain.Event) string {
		mx.Lock()
		seen[ev.Message()]++
		mx.Unlock()
		if n.Add(1) == total {
			close(all)
		}
		return ""
	}))

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProd {
				payload := []byte{byte('a' + p), byte(i), byte(i >> 8)}
				s.engine.emit(domain.Event{Topic: testTopic, Payload: payload})
			}
		}()
	}
	wg.Wait()

	select {
	case <-all:
	case <-time.After(5 * time.Second):
		s.Failf("missing deliveries", "got %d of %d", n.Load(), total)
	}
	mx.Lock()
	s.Len(seen, total)
	for k, c := range seen {
		s.Equal(1, c, k)
	}
	mx.Unlock()

	s.Require().NoError(s.session.Disconnect(s.ctx))
	before := n.Load()
	s.engine.emit(domain.Event{Topic: testTopic, Payload: []byte("late")})
	time.Sleep(20 * time.Millisecond)
	s.Equal(before, n.Load())
}

func (s *SessionSuite) TestDisconnectClearsListener() {
	s.connect()
	var calls atomic.Int64
	s.session.SetListener(bridge.ListenerFunc(func(context.Context, domain.Event) string {
		calls.Add(1)
		return ""
	}))
	s.Require().NoError(s.session.Disconnect(s.ctx))

	s.connect()
	s.engine.emit(domain.Event{Topic: testTopic, Payload: []byte("hello")})
	time.Sleep(20 * time.Millisecond)
	s.Zero(calls.Load())
}

func (s *SessionSuite) TestSinkOfPreviousConnectionIsIgnored() {
	s.connect()
	s.engine.mx.Lock()
	staleSink := s.engine.sink
	s.engine.mx.Unlock()
	s.Require().NoError(s.session.Disconnect(s.ctx))

	s.connect()
	var calls atomic.Int64
	s.session.SetListener(bridge.ListenerFunc(func(context.Context, domain.Event) string {
		calls.Add(1)
		return ""
	}))

	staleSink(domain.Event{Topic: testTopic, Payload: []byte("from the old session")})
	staleSink(voteLeaderRequest("old", testTopic, "leader"))
	time.Sleep(20 * time.Millisecond)
	s.Zero(calls.Load())
	s.Empty(s.session.PendingToEvaluate())

	s.engine.emit(domain.Event{Topic: testTopic, Payload: []byte("current")})
	s.Eventually(func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func (s *SessionSuite) TestDisconnectFromListener() {
	s.connect()
	done := make(chan error, 1)
	s.session.SetListener(bridge.ListenerFunc(func(ctx context.Context, _ domain.Event) string {
		done <- s.session.Disconnect(ctx)
		return ""
	}))
	s.engine.emit(domain.Event{Topic: testTopic, Payload: []byte("bye")})

	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(2 * time.Second):
		s.Fail("disconnect from listener deadlocked")
	}
	s.Equal(Disconnected, s.session.State())
}

func (s *SessionSuite) TestSubmitPublishAndValidated() {
	s.connect()

	id, err := s.session.SubmitContent(s.ctx, testTopic, "hello world")
	s.Require().NoError(err)
	s.NotEmpty(id)

	s.Require().NoError(s.session.Publish(s.ctx, testTopic, []byte("hi")))

	contents, err := s.session.ValidatedContent(s.ctx)
	s.Require().NoError(err)
	s.NotNil(contents)

	var valErr *ValidationError
	_, err = s.session.SubmitContent(s.ctx, testTopic, "")
	s.True(errors.As(err, &valErr))
	s.True(errors.As(s.session.Publish(s.ctx, "", []byte("x")), &valErr))
}

func TestSessionSuite(t *testing.T) {
	defer goleak.VerifyNone(t)

	suite.Run(t, new(SessionSuite))
}

func TestSessionRequestTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	engine := newStubEngine()
	sess := New(engine, DefaultOptions().WithRequestTimeout(20*time.Millisecond))
	ctx := context.Background()
	if err := sess.Connect(ctx, testServerAddress, newPeerID(t), testUsername); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sess.Disconnect(ctx)

	engine.mx.Lock()
	engine.blockCh = make(chan struct{})
	engine.mx.Unlock()

	_, err := sess.Reputations(ctx, testTopic)
	if !errors.Is(err, ErrQueryFailed) {
		t.Fatalf("expected query failure, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline cause, got %v", err)
	}
	if sess.State() != Connected {
		t.Fatalf("timeout must not drop the connection, state %s", sess.State())
	}
}
