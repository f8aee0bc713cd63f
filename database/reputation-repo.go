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

package database

import (
	"cmp"
	"math"
	"slices"
	"strconv"

	local "github.com/Warp-net/warpvote/database/local-store"
	"github.com/Warp-net/warpvote/domain"
)

const (
	ReputationNamespace = "/REPUTATION"

	DefaultReputation = 90.0
)

type ReputationStorer interface {
	Set(key local.DatabaseKey, value []byte) error
	Get(key local.DatabaseKey) ([]byte, error)
	NewTxn() (local.WarpTransactioner, error)
}

// ReputationRepo keeps per-topic peer scores. Scores are stored, never derived here.
type ReputationRepo struct {
	db ReputationStorer
}

func NewReputationRepo(db ReputationStorer) *ReputationRepo {
	return &ReputationRepo{db: db}
}

func reputationKey(topic, peerID string) local.DatabaseKey {
	return local.NewPrefixBuilder(ReputationNamespace).
		AddRootID(topic).
		AddParentId(peerID).
		Build()
}

func (repo *ReputationRepo) Set(topic, peerID string, score float64) error {
	if topic == "" || peerID == "" {
		return local.DBError("reputation: topic and peer id are required")
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return local.DBError("reputation: invalid score")
	}
	return repo.db.Set(reputationKey(topic, peerID), []byte(strconv.FormatFloat(score, 'f', -1, 64)))
}

func (repo *ReputationRepo) Get(topic, peerID string) (float64, error) {
	data, err := repo.db.Get(reputationKey(topic, peerID))
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(string(data), 64)
}

// GetOrDefault stores and returns DefaultReputation for a peer never scored on topic.
func (repo *ReputationRepo) GetOrDefault(topic, peerID string) (float64, error) {
	score, err := repo.Get(topic, peerID)
	if err == nil {
		return score, nil
	}
	if !local.IsNotFoundError(err) {
		return 0, err
	}
	if err := repo.Set(topic, peerID, DefaultReputation); err != nil {
		return 0, err
	}
	return DefaultReputation, nil
}

// Lookup is GetOrDefault without storing the default.
func (repo *ReputationRepo) Lookup(topic, peerID string) (float64, error) {
	score, err := repo.Get(topic, peerID)
	if local.IsNotFoundError(err) {
		return DefaultReputation, nil
	}
	return score, err
}

// List returns scores for topic, highest first.
func (repo *ReputationRepo) List(topic string) ([]domain.Reputation, error) {
	prefix := local.NewPrefixBuilder(ReputationNamespace).AddRootID(topic).Build() + local.Delimeter

	txn, err := repo.db.NewTxn()
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	limit := uint64(500)
	var (
		reps   = []domain.Reputation{}
		cursor string
	)
	for {
		items, next, err := txn.List(prefix, &limit, &cursor)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			score, err := strconv.ParseFloat(string(item.Value), 64)
			if err != nil {
				return nil, err
			}
			reps = append(reps, domain.Reputation{
				PeerID: item.Key[len(prefix):],
				Topic:  topic,
				Score:  score,
			})
		}
		if next == local.EndCursor {
			break
		}
		cursor = next
	}

	slices.SortStableFunc(reps, func(a, b domain.Reputation) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.PeerID, b.PeerID)
	})
	return reps, nil
}
