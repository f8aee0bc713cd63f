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
	"time"

	local "github.com/Warp-net/warpvote/database/local-store"
	"github.com/Warp-net/warpvote/domain"
	"github.com/Warp-net/warpvote/json"
)

const (
	VotationsNamespace = "/VOTATIONS"
	VotesNamespace     = "/VOTES"
)

var ErrVotationNotFound = local.DBError("votation not found")

type VotationStorer interface {
	Get(key local.DatabaseKey) ([]byte, error)
	NewTxn() (local.WarpTransactioner, error)
	Delete(key local.DatabaseKey) error
}

type VotationRepo struct {
	db VotationStorer
}

func NewVotationRepo(db VotationStorer) *VotationRepo {
	return &VotationRepo{db: db}
}

func votationKey(id string) local.DatabaseKey {
	return local.NewPrefixBuilder(VotationsNamespace).AddRootID(id).Build()
}

func votePrefix(id string) local.DatabaseKey {
	return local.NewPrefixBuilder(VotesNamespace).AddRootID(id).Build() + local.Delimeter
}

// Save stores a votation for ttl. Zero ttl keeps it until deleted.
func (repo *VotationRepo) Save(v domain.VotationRecord, ttl time.Duration) error {
	if v.ID == "" {
		return local.DBError("votation id cannot be blank")
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	txn, err := repo.db.NewTxn()
	if err != nil {
		return err
	}
	defer txn.Rollback()

	if ttl > 0 {
		err = txn.SetWithTTL(votationKey(v.ID), data, ttl)
	} else {
		err = txn.Set(votationKey(v.ID), data)
	}
	if err != nil {
		return err
	}
	return txn.Commit()
}

func (repo *VotationRepo) Get(id string) (domain.VotationRecord, error) {
	data, err := repo.db.Get(votationKey(id))
	if local.IsNotFoundError(err) {
		return domain.VotationRecord{}, ErrVotationNotFound
	}
	if err != nil {
		return domain.VotationRecord{}, err
	}
	var v domain.VotationRecord
	err = json.Unmarshal(data, &v)
	return v, err
}

// MarkResolved flags the votation so late votes are ignored.
func (repo *VotationRepo) MarkResolved(id string) error {
	txn, err := repo.db.NewTxn()
	if err != nil {
		return err
	}
	defer txn.Rollback()

	data, err := txn.Get(votationKey(id))
	if local.IsNotFoundError(err) {
		return ErrVotationNotFound
	}
	if err != nil {
		return err
	}
	var v domain.VotationRecord
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	v.Resolved = true
	data, err = json.Marshal(v)
	if err != nil {
		return err
	}
	if err := txn.Set(votationKey(id), data); err != nil {
		return err
	}
	return txn.Commit()
}

// AddVote records one vote per voter; a repeated vote overwrites the previous one.
// It returns the votes collected so far.
func (repo *VotationRepo) AddVote(id, voter string, approve bool) (map[string]bool, error) {
	if id == "" || voter == "" {
		return nil, local.DBError("vote: votation id and voter are required")
	}
	txn, err := repo.db.NewTxn()
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	value := []byte("0")
	if approve {
		value = []byte("1")
	}
	if err := txn.Set(votePrefix(id)+local.DatabaseKey(voter), value); err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, err
	}
	return repo.Votes(id)
}

func (repo *VotationRepo) Votes(id string) (map[string]bool, error) {
	prefix := votePrefix(id)

	txn, err := repo.db.NewTxn()
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	limit := uint64(100)
	var (
		votes  = make(map[string]bool)
		cursor string
	)
	for {
		items, next, err := txn.List(prefix, &limit, &cursor)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			votes[item.Key[len(prefix):]] = string(item.Value) == "1"
		}
		if next == local.EndCursor {
			break
		}
		cursor = next
	}
	return votes, nil
}

func (repo *VotationRepo) Delete(id string) error {
	keys := []local.DatabaseKey{votationKey(id)}

	txn, err := repo.db.NewTxn()
	if err != nil {
		return err
	}
	err = txn.IterateKeys(votePrefix(id), func(key string) error {
		keys = append(keys, local.DatabaseKey(key))
		return nil
	})
	txn.Rollback()
	if err != nil {
		return err
	}

	for _, key := range keys {
		if err := repo.db.Delete(key); err != nil && !local.IsNotFoundError(err) {
			return err
		}
	}
	return nil
}
