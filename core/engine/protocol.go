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
	"slices"
	"sync"
	"time"

	"github.com/Warp-net/warpvote/core/warpnet"
	"github.com/Warp-net/warpvote/database"
	"github.com/Warp-net/warpvote/domain"
	"github.com/Warp-net/warpvote/event"
	"github.com/Warp-net/warpvote/json"
	"github.com/Warp-net/warpvote/security"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultMembersForConsensus = 5
	DefaultMinReputation       = 80.0
	DefaultApproveThreshold    = 0.6
	DefaultVotationTTL         = 10 * time.Second
)

type publisher interface {
	Publish(ctx context.Context, topic string, data []byte) error
}

type signer func(data []byte) (string, error)

type protocolConfig struct {
	self                string
	membersForConsensus int
	minReputation       float64
	approveThreshold    float64
	votationTTL         time.Duration
}

// protocol runs the content validation exchange on top of any publisher.
type protocol struct {
	cfg     protocolConfig
	sign    signer
	pub     publisher
	deliver func(domain.Event)

	topics      *database.TopicRepo
	reputations *database.ReputationRepo
	votations   *database.VotationRepo
	contents    *database.ContentRepo

	seen *seenCache
	// serializes interest collection and tallying
	mx sync.Mutex
}

type protocolRepos struct {
	topics      *database.TopicRepo
	reputations *database.ReputationRepo
	votations   *database.VotationRepo
	contents    *database.ContentRepo
}

func newProtocol(cfg protocolConfig, sign signer, pub publisher, deliver func(domain.Event), repos protocolRepos) *protocol {
	if cfg.membersForConsensus <= 0 {
		cfg.membersForConsensus = DefaultMembersForConsensus
	}
	if cfg.minReputation <= 0 {
		cfg.minReputation = DefaultMinReputation
	}
	if cfg.approveThreshold <= 0 || cfg.approveThreshold > 1 {
		cfg.approveThreshold = DefaultApproveThreshold
	}
	if cfg.votationTTL <= 0 {
		cfg.votationTTL = DefaultVotationTTL
	}
	return &protocol{
		cfg:         cfg,
		sign:        sign,
		pub:         pub,
		deliver:     deliver,
		topics:      repos.topics,
		reputations: repos.reputations,
		votations:   repos.votations,
		contents:    repos.contents,
		seen:        newSeenCache(0, 0),
	}
}

// ContentRef is a CIDv1 over the raw content bytes.
func ContentRef(content string) (string, error) {
	hash, err := multihash.Sum([]byte(content), multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(cid.Raw, hash).String(), nil
}

func (p *protocol) publish(ctx context.Context, topic string, msg event.ContentMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.pub.Publish(ctx, topic, data)
}

// handle processes one gossip payload received from another peer.
func (p *protocol) handle(ctx context.Context, topic, from string, data []byte) {
	msg, ok := event.DecodeContentMessage(data)
	if !ok {
		p.deliver(domain.Event{Topic: topic, Payload: data, From: from, ReceivedAt: time.Now()})
		return
	}
	if p.seen.Seen(msg.Type.String() + "/" + msg.IdVotation + "/" + msg.Topic + "/" + from) {
		return
	}

	var err error
	switch msg.Type {
	case event.RegisterTopicType:
		err = p.onRegisterTopic(topic, from, msg, data)
	case event.InterestedType:
		err = p.onInterested(ctx, topic, msg)
	case event.InterestedResponseType:
		err = p.onInterestedResponse(ctx, topic, from, msg)
	case event.VoteLeaderRequestType:
		err = p.onVoteLeaderRequest(topic, from, msg, data)
	case event.ResultVoteType:
		err = p.onResultVote(ctx, from, msg)
	case event.IncludeNewValidatedContentType:
		err = p.onValidated(topic, from, msg, data)
	}
	if err != nil {
		log.Warnf("engine: %s from %s on %s: %v", msg.Type, from, topic, err)
	}
}

func (p *protocol) onRegisterTopic(topic, from string, msg event.ContentMessage, raw []byte) error {
	err := p.topics.Upsert(domain.TopicRecord{Name: msg.Topic, Creator: from})
	if err != nil {
		return err
	}
	p.deliver(domain.Event{Topic: topic, Payload: raw, From: from, ReceivedAt: time.Now()})
	return nil
}

func (p *protocol) onInterested(ctx context.Context, topic string, msg event.ContentMessage) error {
	return p.publish(ctx, topic, event.NewInterestedResponse(msg.IdVotation))
}

func (p *protocol) onInterestedResponse(ctx context.Context, topic, from string, msg event.ContentMessage) error {
	p.mx.Lock()
	defer p.mx.Unlock()

	req, err := p.contents.GetPending(msg.IdVotation)
	if errors.Is(err, database.ErrContentRequestNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if req.Proposed || req.Topic != topic {
		return nil
	}

	score, err := p.reputations.GetOrDefault(req.Topic, from)
	if err != nil {
		return err
	}
	if score < p.cfg.minReputation {
		log.Debugf("engine: %s below reputation threshold on %s: %.1f", from, req.Topic, score)
		return nil
	}

	req, err = p.contents.AddInterested(req.VotationID, from)
	if err != nil {
		return err
	}
	if len(req.Interested) < p.cfg.membersForConsensus {
		return nil
	}
	return p.proposeLocked(ctx, req)
}

func (p *protocol) proposeLocked(ctx context.Context, req domain.ContentRequest) error {
	voters := slices.Clone(req.Interested[:p.cfg.membersForConsensus])
	msg := event.ContentMessage{
		Type:            event.VoteLeaderRequestType,
		Topic:           req.Topic,
		IdVotation:      req.VotationID,
		Content:         req.Content,
		ContentRef:      req.ContentRef,
		PublisherPeerId: p.cfg.self,
		VotersPeerId:    voters,
		LeaderPeerId:    voters[0],
		TtlSecs:         uint64(p.cfg.votationTTL / time.Second),
	}
	payload, err := msg.SigningBytes()
	if err != nil {
		return err
	}
	if msg.Signature, err = p.sign(payload); err != nil {
		return err
	}
	if err := p.contents.MarkProposed(req.VotationID); err != nil {
		return err
	}
	log.Infof("engine: votation %s proposed to %d voters, leader %s", req.VotationID, len(voters), voters[0])
	return p.publish(ctx, req.Topic, msg)
}

func (p *protocol) onVoteLeaderRequest(topic, from string, msg event.ContentMessage, raw []byte) error {
	if msg.PublisherPeerId != from {
		return warpnet.WarpError("publisher does not match sender")
	}
	payload, err := msg.SigningBytes()
	if err != nil {
		return err
	}
	if err := security.VerifyPeerSignature(msg.PublisherPeerId, payload, msg.Signature); err != nil {
		return err
	}
	ref, err := ContentRef(msg.Content)
	if err != nil {
		return err
	}
	if msg.ContentRef != ref {
		return warpnet.WarpError("content does not match its reference")
	}
	if !slices.Contains(msg.VotersPeerId, p.cfg.self) {
		return nil
	}

	votationTopic := msg.Topic
	if votationTopic == "" {
		votationTopic = topic
	}
	err = p.votations.Save(domain.VotationRecord{
		ID:         msg.IdVotation,
		Topic:      votationTopic,
		Content:    msg.Content,
		ContentRef: msg.ContentRef,
		Publisher:  msg.PublisherPeerId,
		Leader:     msg.LeaderPeerId,
		Voters:     msg.VotersPeerId,
	}, 0)
	if err != nil {
		return err
	}
	p.deliver(domain.Event{Topic: votationTopic, Payload: raw, From: from, ReceivedAt: time.Now()})
	return nil
}

// vote records the local decision: the leader tallies it, anyone else sends it to the leader.
func (p *protocol) vote(ctx context.Context, votationID string, d domain.Decision) error {
	rec, err := p.votations.Get(votationID)
	if errors.Is(err, database.ErrVotationNotFound) {
		return warpnet.ErrVotationNotFound
	}
	if err != nil {
		return err
	}
	if rec.Resolved {
		return warpnet.ErrVotationNotFound
	}
	if rec.Leader == p.cfg.self {
		return p.countVote(ctx, rec, p.cfg.self, d == domain.Accept)
	}
	return p.publish(ctx, rec.Topic, event.NewResultVote(votationID, event.VoteFromDecision(d)))
}

func (p *protocol) onResultVote(ctx context.Context, from string, msg event.ContentMessage) error {
	rec, err := p.votations.Get(msg.IdVotation)
	if errors.Is(err, database.ErrVotationNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Leader != p.cfg.self || rec.Resolved {
		return nil
	}
	if !slices.Contains(rec.Voters, from) {
		return warpnet.WarpError("vote from a peer outside the votation")
	}
	return p.countVote(ctx, rec, from, msg.Result == event.VoteYes)
}

func (p *protocol) countVote(ctx context.Context, rec domain.VotationRecord, voter string, approve bool) error {
	p.mx.Lock()
	defer p.mx.Unlock()

	current, err := p.votations.Get(rec.ID)
	if err != nil {
		return err
	}
	if current.Resolved {
		return nil
	}

	votes, err := p.votations.AddVote(rec.ID, voter, approve)
	if err != nil {
		return err
	}
	if len(votes) < len(current.Voters) {
		return nil
	}

	var yes int
	for _, v := range votes {
		if v {
			yes++
		}
	}
	approved := float64(yes)/float64(len(votes)) >= p.cfg.approveThreshold
	if err := p.votations.MarkResolved(rec.ID); err != nil {
		return err
	}
	log.Infof("engine: votation %s resolved: %d/%d approve, approved=%t", rec.ID, yes, len(votes), approved)

	result := event.NewIncludeNewValidatedContent(rec.ID, current.Content, approved)
	result.Topic = current.Topic
	result.ContentRef = current.ContentRef
	result.VotersPeerId = current.Voters
	if err := p.publish(ctx, current.Topic, result); err != nil {
		return err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return p.onValidated(current.Topic, p.cfg.self, result, raw)
}

func (p *protocol) onValidated(topic, from string, msg event.ContentMessage, raw []byte) error {
	if from != p.cfg.self {
		rec, err := p.votations.Get(msg.IdVotation)
		if err == nil && rec.Leader != from {
			return warpnet.WarpError("result not sent by the votation leader")
		}
	}
	resultTopic := msg.Topic
	if resultTopic == "" {
		resultTopic = topic
	}
	ref := msg.ContentRef
	if ref == "" {
		var err error
		if ref, err = ContentRef(msg.Content); err != nil {
			return err
		}
	}
	err := p.contents.AddValidated(domain.ValidatedContent{
		VotationID: msg.IdVotation,
		Topic:      resultTopic,
		Content:    msg.Content,
		ContentRef: ref,
		Voters:     msg.VotersPeerId,
		Approved:   *msg.Approved,
	})
	if err != nil {
		return err
	}
	if err := p.votations.Delete(msg.IdVotation); err != nil {
		return err
	}
	if err := p.contents.DeletePending(msg.IdVotation); err != nil && !errors.Is(err, database.ErrContentRequestNotFound) {
		return err
	}
	p.deliver(domain.Event{Topic: resultTopic, Payload: raw, From: from, ReceivedAt: time.Now()})
	return nil
}

// submit starts a votation for content and asks topic subscribers for interest.
func (p *protocol) submit(ctx context.Context, topic, content string) (string, error) {
	ref, err := ContentRef(content)
	if err != nil {
		return "", err
	}
	id := ulid.Make().String()
	err = p.contents.SavePending(domain.ContentRequest{
		VotationID: id,
		Topic:      topic,
		Content:    content,
		ContentRef: ref,
	}, p.cfg.votationTTL)
	if err != nil {
		return "", err
	}
	if err := p.publish(ctx, topic, event.NewInterested(id, content)); err != nil {
		_ = p.contents.DeletePending(id)
		return "", err
	}
	log.Infof("engine: content %s submitted on %s as votation %s", ref, topic, id)
	return id, nil
}

// status looks the votation up in the validated log first, then in the
// local votation records, then among the requests this peer submitted.
func (p *protocol) status(votationID string) (domain.VotationStatus, error) {
	done, err := p.contents.GetValidated(votationID)
	if err == nil {
		st := domain.VotationStatus{
			ID:         done.VotationID,
			Topic:      done.Topic,
			ContentRef: done.ContentRef,
			State:      domain.VotationRejected,
			Stage:      domain.StageResolved,
			Voters:     nonNil(done.Voters),
		}
		if done.Approved {
			st.State = domain.VotationAccepted
		}
		return st, nil
	}
	if !errors.Is(err, database.ErrValidatedContentNotFound) {
		return domain.VotationStatus{}, err
	}

	rec, err := p.votations.Get(votationID)
	if err == nil {
		return domain.VotationStatus{
			ID:         rec.ID,
			Topic:      rec.Topic,
			ContentRef: rec.ContentRef,
			State:      domain.VotationPending,
			Stage:      domain.StageVoting,
			Leader:     rec.Leader,
			Voters:     nonNil(rec.Voters),
		}, nil
	}
	if !errors.Is(err, database.ErrVotationNotFound) {
		return domain.VotationStatus{}, err
	}

	req, err := p.contents.GetPending(votationID)
	if errors.Is(err, database.ErrContentRequestNotFound) {
		return domain.VotationStatus{}, warpnet.ErrVotationNotFound
	}
	if err != nil {
		return domain.VotationStatus{}, err
	}
	st := domain.VotationStatus{
		ID:         req.VotationID,
		Topic:      req.Topic,
		ContentRef: req.ContentRef,
		State:      domain.VotationPending,
		Stage:      domain.StageCollecting,
		Voters:     nonNil(req.Interested),
	}
	if req.Proposed {
		st.Stage = domain.StageVoting
		st.Voters = slices.Clone(req.Interested[:min(len(req.Interested), p.cfg.membersForConsensus)])
		st.Leader = st.Voters[0]
	}
	return st, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (p *protocol) announceTopic(ctx context.Context, name string) error {
	err := p.topics.Create(domain.TopicRecord{Name: name, Creator: p.cfg.self})
	if err != nil {
		return err
	}
	if err := p.publish(ctx, event.TopicsTopic, event.NewRegisterTopic(name)); err != nil {
		_ = p.topics.Delete(name)
		return err
	}
	return nil
}
