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

	"github.com/Warp-net/warpvote/core/warpnet"
	local "github.com/Warp-net/warpvote/database/local-store"
	"github.com/Warp-net/warpvote/domain"
	"github.com/Warp-net/warpvote/json"
)

const (
	ContentNamespace   = "/CONTENT"
	pendingSubspace    = "PENDING"
	refSubspace        = "REF"
	validatedNamespace = "/VALIDATED"

	DefaultPendingTTL = 10 * time.Second
)

var (
	ErrContentRequestNotFound   = local.DBError("content request not found")
	ErrValidatedContentNotFound = local.DBError("validated content not found")
)

type ContentStorer interface {
	Get(key local.DatabaseKey) ([]byte, error)
	NewTxn() (local.WarpTransactioner, error)
	Delete(key local.DatabaseKey) error
}

// ContentRepo holds content awaiting validation and the log of validated content.
type ContentRepo struct {
	db ContentStorer
}

func NewContentRepo(db ContentStorer) *ContentRepo {
	return &ContentRepo{db: db}
}

func pendingKey(votationID string) local.DatabaseKey {
	return local.NewPrefixBuilder(ContentNamespace).
		AddSubPrefix(pendingSubspace).
		AddRootID(votationID).
		Build()
}

func refKey(topic, ref string) local.DatabaseKey {
	return local.NewPrefixBuilder(ContentNamespace).
		AddSubPrefix(refSubspace).
		AddRootID(topic).
		AddParentId(ref).
		Build()
}

// SavePending stores a new request; the same content ref on the same topic is rejected
// while a previous request is still alive.
func (repo *ContentRepo) SavePending(req domain.ContentRequest, ttl time.Duration) error {
	if req.VotationID == "" || req.Topic == "" || req.ContentRef == "" {
		return local.DBError("content request: votation id, topic and ref are required")
	}
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	req.ExpiresAt = time.Now().Add(ttl)

	txn, err := repo.db.NewTxn()
	if err != nil {
		return err
	}
	defer txn.Rollback()

	_, err = txn.Get(refKey(req.Topic, req.ContentRef))
	if err == nil {
		return warpnet.ErrContentAlreadySubmitted
	}
	if !local.IsNotFoundError(err) {
		return err
	}

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := txn.SetWithTTL(pendingKey(req.VotationID), data, ttl); err != nil {
		return err
	}
	if err := txn.SetWithTTL(refKey(req.Topic, req.ContentRef), []byte(req.VotationID), ttl); err != nil {
		return err
	}
	return txn.Commit()
}

func (repo *ContentRepo) GetPending(votationID string) (domain.ContentRequest, error) {
	data, err := repo.db.Get(pendingKey(votationID))
	if local.IsNotFoundError(err) {
		return domain.ContentRequest{}, ErrContentRequestNotFound
	}
	if err != nil {
		return domain.ContentRequest{}, err
	}
	var req domain.ContentRequest
	err = json.Unmarshal(data, &req)
	return req, err
}

// AddInterested records a voter answering the request and returns the updated request.
// The original expiry is kept.
func (repo *ContentRepo) AddInterested(votationID, peerID string) (domain.ContentRequest, error) {
	txn, err := repo.db.NewTxn()
	if err != nil {
		return domain.ContentRequest{}, err
	}
	defer txn.Rollback()

	key := pendingKey(votationID)
	data, err := txn.Get(key)
	if local.IsNotFoundError(err) {
		return domain.ContentRequest{}, ErrContentRequestNotFound
	}
	if err != nil {
		return domain.ContentRequest{}, err
	}
	var req domain.ContentRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return domain.ContentRequest{}, err
	}
	for _, p := range req.Interested {
		if p == peerID {
			return req, nil
		}
	}
	req.Interested = append(req.Interested, peerID)
	if err := repo.rewrite(txn, key, req); err != nil {
		return domain.ContentRequest{}, err
	}
	return req, txn.Commit()
}

// MarkProposed flags the request once its voters were asked to vote.
func (repo *ContentRepo) MarkProposed(votationID string) error {
	txn, err := repo.db.NewTxn()
	if err != nil {
		return err
	}
	defer txn.Rollback()

	key := pendingKey(votationID)
	data, err := txn.Get(key)
	if local.IsNotFoundError(err) {
		return ErrContentRequestNotFound
	}
	if err != nil {
		return err
	}
	var req domain.ContentRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	req.Proposed = true
	if err := repo.rewrite(txn, key, req); err != nil {
		return err
	}
	return txn.Commit()
}

func (repo *ContentRepo) rewrite(txn local.WarpTransactioner, key local.DatabaseKey, req domain.ContentRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	ttl := time.Until(req.ExpiresAt)
	if ttl <= 0 {
		return ErrContentRequestNotFound
	}
	return txn.SetWithTTL(key, data, ttl)
}

func (repo *ContentRepo) DeletePending(votationID string) error {
	req, err := repo.GetPending(votationID)
	if err != nil {
		return err
	}
	if err := repo.db.Delete(refKey(req.Topic, req.ContentRef)); err != nil && !local.IsNotFoundError(err) {
		return err
	}
	return repo.db.Delete(pendingKey(votationID))
}

func validatedFixedKey(votationID string) local.DatabaseKey {
	return local.NewPrefixBuilder(validatedNamespace).
		AddRange(local.FixedRangeKey).
		AddParentId(votationID).
		Build()
}

// AddValidated appends to the validated content log.
func (repo *ContentRepo) AddValidated(c domain.ValidatedContent) error {
	if c.VotationID == "" {
		return local.DBError("validated content: votation id is required")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	txn, err := repo.db.NewTxn()
	if err != nil {
		return err
	}
	defer txn.Rollback()

	fixedKey := validatedFixedKey(c.VotationID)
	if _, err := txn.Get(fixedKey); err == nil {
		return nil
	} else if !local.IsNotFoundError(err) {
		return err
	}

	sortableKey := local.NewPrefixBuilder(validatedNamespace).
		AddRange(local.NoneRangeKey).
		AddTimestamp(time.Now()).
		AddParentId(c.VotationID).
		Build()

	if err := txn.Set(sortableKey, data); err != nil {
		return err
	}
	if err := txn.Set(fixedKey, sortableKey.Bytes()); err != nil {
		return err
	}
	return txn.Commit()
}

// GetValidated looks a votation up in the validated content log.
func (repo *ContentRepo) GetValidated(votationID string) (domain.ValidatedContent, error) {
	txn, err := repo.db.NewTxn()
	if err != nil {
		return domain.ValidatedContent{}, err
	}
	defer txn.Rollback()

	sortableKey, err := txn.Get(validatedFixedKey(votationID))
	if local.IsNotFoundError(err) {
		return domain.ValidatedContent{}, ErrValidatedContentNotFound
	}
	if err != nil {
		return domain.ValidatedContent{}, err
	}
	data, err := txn.Get(local.DatabaseKey(sortableKey))
	if err != nil {
		return domain.ValidatedContent{}, err
	}
	var c domain.ValidatedContent
	err = json.Unmarshal(data, &c)
	return c, err
}

// ListValidated returns validated content oldest first.
func (repo *ContentRepo) ListValidated(limit *uint64, cursor *string) ([]domain.ValidatedContent, string, error) {
	prefix := local.NewPrefixBuilder(validatedNamespace).
		AddRange(local.NoneRangeKey).
		Build() + local.Delimeter

	txn, err := repo.db.NewTxn()
	if err != nil {
		return nil, "", err
	}
	defer txn.Rollback()

	items, next, err := txn.List(prefix, limit, cursor)
	if err != nil {
		return nil, "", err
	}
	contents := make([]domain.ValidatedContent, 0, len(items))
	for _, item := range items {
		var c domain.ValidatedContent
		if err := json.Unmarshal(item.Value, &c); err != nil {
			return nil, "", err
		}
		contents = append(contents, c)
	}
	return contents, next, nil
}
