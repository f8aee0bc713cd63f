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
	"errors"
	"strings"
	"time"

	"github.com/Warp-net/warpvote/core/warpnet"
	local "github.com/Warp-net/warpvote/database/local-store"
	"github.com/Warp-net/warpvote/domain"
	"github.com/Warp-net/warpvote/json"
)

const TopicsNamespace = "/TOPICS"

type TopicStorer interface {
	Set(key local.DatabaseKey, value []byte) error
	Get(key local.DatabaseKey) ([]byte, error)
	NewTxn() (local.WarpTransactioner, error)
	Delete(key local.DatabaseKey) error
}

type TopicRepo struct {
	db TopicStorer
}

func NewTopicRepo(db TopicStorer) *TopicRepo {
	return &TopicRepo{db: db}
}

// Create stores a topic seen on the network. A known name yields ErrTopicAlreadyExists.
func (repo *TopicRepo) Create(t domain.TopicRecord) error {
	if strings.TrimSpace(t.Name) == "" {
		return local.DBError("topic name cannot be blank")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	key := local.NewPrefixBuilder(TopicsNamespace).AddRootID(t.Name).Build()

	txn, err := repo.db.NewTxn()
	if err != nil {
		return err
	}
	defer txn.Rollback()

	_, err = txn.Get(key)
	if err == nil {
		return warpnet.ErrTopicAlreadyExists
	}
	if !local.IsNotFoundError(err) {
		return err
	}

	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := txn.Set(key, data); err != nil {
		return err
	}
	return txn.Commit()
}

// Upsert stores the topic unless it is already known.
func (repo *TopicRepo) Upsert(t domain.TopicRecord) error {
	err := repo.Create(t)
	if errors.Is(err, warpnet.ErrTopicAlreadyExists) {
		return nil
	}
	return err
}

func (repo *TopicRepo) Exists(name string) (bool, error) {
	key := local.NewPrefixBuilder(TopicsNamespace).AddRootID(name).Build()
	_, err := repo.db.Get(key)
	if local.IsNotFoundError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (repo *TopicRepo) Get(name string) (domain.TopicRecord, error) {
	key := local.NewPrefixBuilder(TopicsNamespace).AddRootID(name).Build()
	data, err := repo.db.Get(key)
	if err != nil {
		return domain.TopicRecord{}, err
	}
	var t domain.TopicRecord
	err = json.Unmarshal(data, &t)
	return t, err
}

func (repo *TopicRepo) List() ([]domain.TopicRecord, error) {
	prefix := local.NewPrefixBuilder(TopicsNamespace).Build() + local.Delimeter

	txn, err := repo.db.NewTxn()
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	limit := uint64(1000)
	var (
		topics []domain.TopicRecord
		cursor string
	)
	for {
		items, next, err := txn.List(prefix, &limit, &cursor)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			var t domain.TopicRecord
			if err := json.Unmarshal(item.Value, &t); err != nil {
				return nil, err
			}
			topics = append(topics, t)
		}
		if next == local.EndCursor {
			break
		}
		cursor = next
	}
	return topics, nil
}

func (repo *TopicRepo) Delete(name string) error {
	key := local.NewPrefixBuilder(TopicsNamespace).AddRootID(name).Build()
	return repo.db.Delete(key)
}
