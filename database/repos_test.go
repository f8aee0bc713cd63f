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

//nolint:all
package database

import (
	"testing"
	"time"

	"github.com/Warp-net/warpvote/core/warpnet"
	local "github.com/Warp-net/warpvote/database/local-store"
	"github.com/Warp-net/warpvote/domain"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

type ReposSuite struct {
	suite.Suite

	db          *local.DB
	topics      *TopicRepo
	reputations *ReputationRepo
	votations   *VotationRepo
	contents    *ContentRepo
}

func (s *ReposSuite) SetupSuite() {
	db, err := local.New("", local.DefaultOptions().WithInMemory(true))
	s.Require().NoError(err)
	s.Require().NoError(db.Run())

	s.db = db
	s.topics = NewTopicRepo(db)
	s.reputations = NewReputationRepo(db)
	s.votations = NewVotationRepo(db)
	s.contents = NewContentRepo(db)
}

func (s *ReposSuite) TearDownSuite() {
	s.db.Close()
}

func (s *ReposSuite) TestTopicCreateAndList() {
	s.Require().NoError(s.topics.Create(domain.TopicRecord{Name: "chat-room", Creator: "alice"}))
	s.Require().NoError(s.topics.Create(domain.TopicRecord{Name: "fixed-income"}))

	err := s.topics.Create(domain.TopicRecord{Name: "chat-room"})
	s.ErrorIs(err, warpnet.ErrTopicAlreadyExists)
	s.NoError(s.topics.Upsert(domain.TopicRecord{Name: "chat-room"}))

	ok, err := s.topics.Exists("chat-room")
	s.NoError(err)
	s.True(ok)
	ok, err = s.topics.Exists("missing")
	s.NoError(err)
	s.False(ok)

	got, err := s.topics.Get("chat-room")
	s.NoError(err)
	s.Equal("alice", got.Creator)
	s.False(got.CreatedAt.IsZero())

	list, err := s.topics.List()
	s.NoError(err)
	names := make([]string, 0, len(list))
	for _, t := range list {
		names = append(names, t.Name)
	}
	s.Contains(names, "chat-room")
	s.Contains(names, "fixed-income")

	s.NoError(s.topics.Delete("fixed-income"))
	ok, _ = s.topics.Exists("fixed-income")
	s.False(ok)
}

func (s *ReposSuite) TestReputationDefaultsAndOrder() {
	topic := "rep-" + ulid.Make().String()

	score, err := s.reputations.Lookup(topic, "peer-z")
	s.NoError(err)
	s.Equal(DefaultReputation, score)

	reps, err := s.reputations.List(topic)
	s.NoError(err)
	s.NotNil(reps)
	s.Empty(reps)

	score, err = s.reputations.GetOrDefault(topic, "peer-a")
	s.NoError(err)
	s.Equal(DefaultReputation, score)

	s.NoError(s.reputations.Set(topic, "peer-b", 95.5))
	s.NoError(s.reputations.Set(topic, "peer-c", 40))

	reps, err = s.reputations.List(topic)
	s.NoError(err)
	s.Require().Len(reps, 3)
	s.Equal("peer-b", reps[0].PeerID)
	s.Equal(95.5, reps[0].Score)
	s.Equal("peer-a", reps[1].PeerID)
	s.Equal("peer-c", reps[2].PeerID)
	s.Equal(topic, reps[2].Topic)

	score, err = s.reputations.Lookup(topic, "peer-c")
	s.NoError(err)
	s.Equal(40.0, score)

	other, err := s.reputations.List(topic + "-other")
	s.NoError(err)
	s.Empty(other)
}

func (s *ReposSuite) TestVotationVotes() {
	id := ulid.Make().String()
	rec := domain.VotationRecord{
		ID:        id,
		Topic:     "chat-room",
		Content:   "bafkreiexample",
		Publisher: "pub",
		Leader:    "v1",
		Voters:    []string{"v1", "v2", "v3"},
	}
	s.Require().NoError(s.votations.Save(rec, 0))

	got, err := s.votations.Get(id)
	s.NoError(err)
	s.Equal(rec.Voters, got.Voters)
	s.False(got.Resolved)

	votes, err := s.votations.AddVote(id, "v1", true)
	s.NoError(err)
	s.Len(votes, 1)
	_, err = s.votations.AddVote(id, "v2", false)
	s.NoError(err)
	votes, err = s.votations.AddVote(id, "v2", true)
	s.NoError(err)
	s.Equal(map[string]bool{"v1": true, "v2": true}, votes)

	s.NoError(s.votations.MarkResolved(id))
	got, err = s.votations.Get(id)
	s.NoError(err)
	s.True(got.Resolved)

	s.NoError(s.votations.Delete(id))
	_, err = s.votations.Get(id)
	s.ErrorIs(err, ErrVotationNotFound)
	votes, err = s.votations.Votes(id)
	s.NoError(err)
	s.Empty(votes)
}

func (s *ReposSuite) TestPendingContent() {
	id := ulid.Make().String()
	req := domain.ContentRequest{
		VotationID: id,
		Topic:      "chat-room",
		Content:    "hello",
		ContentRef: "ref-" + id,
	}
	s.Require().NoError(s.contents.SavePending(req, time.Minute))

	dup := req
	dup.VotationID = ulid.Make().String()
	s.ErrorIs(s.contents.SavePending(dup, time.Minute), warpnet.ErrContentAlreadySubmitted)

	updated, err := s.contents.AddInterested(id, "voter-1")
	s.NoError(err)
	s.Equal([]string{"voter-1"}, updated.Interested)
	updated, err = s.contents.AddInterested(id, "voter-1")
	s.NoError(err)
	s.Len(updated.Interested, 1)

	s.NoError(s.contents.MarkProposed(id))
	got, err := s.contents.GetPending(id)
	s.NoError(err)
	s.True(got.Proposed)
	s.Equal("hello", got.Content)

	s.NoError(s.contents.DeletePending(id))
	_, err = s.contents.GetPending(id)
	s.ErrorIs(err, ErrContentRequestNotFound)
	s.NoError(s.contents.SavePending(dup, time.Minute))
}

func (s *ReposSuite) TestPendingContentExpires() {
	id := ulid.Make().String()
	req := domain.ContentRequest{
		VotationID: id,
		Topic:      "ttl",
		Content:    "short lived",
		ContentRef: "ref-" + id,
	}
	s.Require().NoError(s.contents.SavePending(req, time.Second))
	time.Sleep(1100 * time.Millisecond)

	_, err := s.contents.GetPending(id)
	s.ErrorIs(err, ErrContentRequestNotFound)
}

func (s *ReposSuite) TestValidatedLog() {
	first := domain.ValidatedContent{VotationID: ulid.Make().String(), Topic: "chat-room", Content: "a", Approved: true}
	second := domain.ValidatedContent{VotationID: ulid.Make().String(), Topic: "chat-room", Content: "b", Approved: false}

	s.NoError(s.contents.AddValidated(first))
	time.Sleep(time.Millisecond)
	s.NoError(s.contents.AddValidated(second))
	s.NoError(s.contents.AddValidated(first))

	got, err := s.contents.GetValidated(second.VotationID)
	s.NoError(err)
	s.Equal(second, got)
	_, err = s.contents.GetValidated("missing")
	s.ErrorIs(err, ErrValidatedContentNotFound)

	limit := uint64(1)
	page, cursor, err := s.contents.ListValidated(&limit, nil)
	s.NoError(err)
	s.Require().Len(page, 1)
	s.Equal(first.VotationID, page[0].VotationID)
	s.NotEqual(local.EndCursor, cursor)

	page, cursor, err = s.contents.ListValidated(&limit, &cursor)
	s.NoError(err)
	s.Require().Len(page, 1)
	s.Equal(second.VotationID, page[0].VotationID)
	s.False(page[0].Approved)

	page, cursor, err = s.contents.ListValidated(&limit, &cursor)
	s.NoError(err)
	s.Empty(page)
	s.Equal(local.EndCursor, cursor)
}

func TestReposSuite(t *testing.T) {
	defer goleak.VerifyNone(t)

	suite.Run(t, new(ReposSuite))
}
