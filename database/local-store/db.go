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

package local_store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"
	"github.com/docker/go-units"
	log "github.com/sirupsen/logrus"
)

/*
  BadgerDB is an embedded LSM-tree key-value store.
  The engine keeps its protocol state here: topics it announced or joined,
  reputation snapshots, votations with their votes and the validated content log.
  Pending content requests are written with a TTL so abandoned votations expire
  without a sweeper.
  https://github.com/dgraph-io/badger
*/

const (
	firstRunLockFile = "run.lock"

	defaultDiscardRatioGC = 0.5
	defaultIntervalGC     = time.Hour
	defaultSleepGC        = time.Second

	ErrNotRunning = DBError("DB is not running")
)

type DBError string

func (e DBError) Error() string {
	return string(e)
}

type Options struct {
	discardRatioGC float64
	intervalGC     time.Duration
	sleepGC        time.Duration
	isInMemory     bool
}

func DefaultOptions() *Options {
	return &Options{
		discardRatioGC: defaultDiscardRatioGC,
		intervalGC:     defaultIntervalGC,
		sleepGC:        defaultSleepGC,
		isInMemory:     false,
	}
}

func (opt *Options) WithDiscardRatioGC(ratio float64) *Options {
	opt.discardRatioGC = ratio
	return opt
}

func (opt *Options) WithIntervalGC(interval time.Duration) *Options {
	opt.intervalGC = interval
	return opt
}

func (opt *Options) WithSleepGC(sleep time.Duration) *Options {
	opt.sleepGC = sleep
	return opt
}

func (opt *Options) WithInMemory(v bool) *Options {
	opt.isInMemory = v
	return opt
}

type DB struct {
	badger *badger.DB

	isRunning *atomic.Bool

	dbPath          string
	hasFirstRunFlag bool

	badgerOpts     badger.Options
	discardRatioGC float64
	intervalGC     time.Duration
	sleepGC        time.Duration

	stopChan chan struct{}
	gcWg     sync.WaitGroup
}

func New(
	dbPath string,
	o *Options,
) (*DB, error) {
	if o == nil {
		o = DefaultOptions()
	}
	if dbPath == "" && !o.isInMemory {
		return nil, DBError("database: path is empty")
	}

	badgerOpts := badger.
		DefaultOptions(dbPath).
		WithSyncWrites(false).
		WithIndexCacheSize(64 << 20).
		WithCompression(options.ZSTD).
		WithNumCompactors(2).
		WithLoggingLevel(badger.ERROR).
		WithBlockCacheSize(128 << 20)
	if o.isInMemory {
		badgerOpts = badger.
			DefaultOptions("").
			WithDir("").
			WithValueDir("").
			WithInMemory(true).
			WithSyncWrites(false).
			WithIndexCacheSize(16 << 20).
			WithNumCompactors(2).
			WithLoggingLevel(badger.ERROR).
			WithBlockCacheSize(32 << 20)
	}

	if o.intervalGC == 0 {
		o.intervalGC = defaultIntervalGC
	}
	if o.discardRatioGC == 0 {
		o.discardRatioGC = defaultDiscardRatioGC
	}
	if o.sleepGC == 0 {
		o.sleepGC = defaultSleepGC
	}

	storage := &DB{
		badger: nil, stopChan: make(chan struct{}), isRunning: new(atomic.Bool),
		badgerOpts: badgerOpts, dbPath: dbPath,
		hasFirstRunFlag: !o.isInMemory && findFirstRunFlag(dbPath),
		discardRatioGC:  o.discardRatioGC, intervalGC: o.intervalGC, sleepGC: o.sleepGC,
	}

	return storage, nil
}

func findFirstRunFlag(dbPath string) (found bool) {
	_, err := os.Stat(filepath.Join(dbPath, firstRunLockFile))
	return err == nil
}

func (db *DB) IsFirstRun() bool {
	return !db.hasFirstRunFlag
}

func (db *DB) writeFirstRunFlag() {
	if db.badgerOpts.InMemory {
		return
	}
	path := filepath.Join(db.dbPath, firstRunLockFile)
	log.Infof("database: lock file created: %s", path)
	f, _ := os.Create(path) //#nosec
	if f != nil {
		_ = f.Close()
	}
	db.hasFirstRunFlag = true
}

func (db *DB) Run() (err error) {
	if db == nil {
		return ErrNotRunning
	}
	if db.isRunning.Load() {
		return nil
	}

	db.badger, err = badger.Open(db.badgerOpts)
	if err != nil {
		return fmt.Errorf("database: open: %w", err)
	}
	db.isRunning.Store(true)

	if !db.hasFirstRunFlag {
		db.writeFirstRunFlag()
	}

	if !db.badgerOpts.InMemory {
		db.gcWg.Add(1)
		go db.runEventualGC()
	}

	return nil
}

func (db *DB) runEventualGC() {
	defer db.gcWg.Done()

	log.Infof("database: garbage collection started, interval %s", db.intervalGC)
	gcTicker := time.NewTicker(db.intervalGC)
	defer gcTicker.Stop()

	for {
		select {
		case <-gcTicker.C:
			db.GC()
			log.Debugln("database: garbage collection complete")
		case <-db.stopChan:
			return
		}
	}
}

// GC rewrites value log files until badger has nothing left to reclaim.
func (db *DB) GC() {
	if db.IsClosed() {
		return
	}
	for {
		if err := db.badger.RunValueLogGC(db.discardRatioGC); err != nil {
			return
		}
		select {
		case <-db.stopChan:
			return
		case <-time.After(db.sleepGC):
		}
	}
}

// Stats reports storage sizes for the local API.
func (db *DB) Stats() map[string]string {
	if db.IsClosed() {
		return map[string]string{}
	}
	lsm, vlog := db.badger.Size()
	size := lsm + vlog

	stats := map[string]string{
		"size":     units.HumanSize(float64(size)),
		"lsm_size": strconv.FormatInt(lsm, 10),
	}
	if cacheMetrics := db.badger.BlockCacheMetrics(); cacheMetrics != nil {
		stats["cache_hit_miss"] = fmt.Sprintf("%d/%d", cacheMetrics.Hits(), cacheMetrics.Misses())
	}
	return stats
}

func (db *DB) Set(key DatabaseKey, value []byte) error {
	if db == nil {
		return ErrNotRunning
	}
	if !db.isRunning.Load() {
		return ErrNotRunning
	}

	return db.badger.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key.Bytes(), value)
		return txn.SetEntry(e)
	})
}

func (db *DB) SetWithTTL(key DatabaseKey, value []byte, ttl time.Duration) error {
	if db == nil {
		return ErrNotRunning
	}
	if !db.isRunning.Load() {
		return ErrNotRunning
	}
	return db.badger.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key.Bytes(), value)
		e.WithTTL(ttl)
		return txn.SetEntry(e)
	})
}

func (db *DB) Get(key DatabaseKey) ([]byte, error) {
	if db == nil {
		return nil, ErrNotRunning
	}
	if !db.isRunning.Load() {
		return nil, ErrNotRunning
	}

	var result []byte
	err := db.badger.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key.Bytes())
		if err != nil {
			return err
		}

		result, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (db *DB) Delete(key DatabaseKey) error {
	if db == nil {
		return ErrNotRunning
	}
	if !db.isRunning.Load() {
		return ErrNotRunning
	}

	return db.badger.Update(func(txn *badger.Txn) error {
		return txn.Delete(key.Bytes())
	})
}

type WarpTransactioner interface {
	Set(key DatabaseKey, value []byte) error
	Get(key DatabaseKey) ([]byte, error)
	SetWithTTL(key DatabaseKey, value []byte, ttl time.Duration) error
	Delete(key DatabaseKey) error
	Commit() error
	Rollback()
	IterateKeys(prefix DatabaseKey, handler IterKeysFunc) error
	List(prefix DatabaseKey, limit *uint64, cursor *string) ([]ListItem, string, error)
}

type warpTxn struct {
	txn *badger.Txn
}

func (db *DB) NewTxn() (WarpTransactioner, error) {
	if db == nil {
		return nil, ErrNotRunning
	}
	if !db.isRunning.Load() {
		return nil, ErrNotRunning
	}
	return &warpTxn{db.badger.NewTransaction(true)}, nil
}

func (t *warpTxn) Set(key DatabaseKey, value []byte) error {
	return t.txn.Set(key.Bytes(), value)
}

func (t *warpTxn) Get(key DatabaseKey) ([]byte, error) {
	item, err := t.txn.Get(key.Bytes())
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *warpTxn) SetWithTTL(key DatabaseKey, value []byte, ttl time.Duration) error {
	e := badger.NewEntry(key.Bytes(), value)
	e.WithTTL(ttl)
	return t.txn.SetEntry(e)
}

func (t *warpTxn) Delete(key DatabaseKey) error {
	return t.txn.Delete(key.Bytes())
}

const (
	EndCursor = "end"
	endCursor = EndCursor
)

func isFixed(key string) bool {
	return strings.Contains(key+Delimeter, Delimeter+FixedKey+Delimeter)
}

type IterKeysFunc func(key string) error

func (t *warpTxn) IterateKeys(prefix DatabaseKey, handler IterKeysFunc) error {
	if isFixed(prefix.String()) {
		return DBError("cannot iterate thru fixed key")
	}
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := t.txn.NewIterator(opts)
	defer it.Close()
	p := prefix.Bytes()

	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		key := string(it.Item().KeyCopy(nil))
		if isFixed(key) {
			continue
		}
		if err := handler(key); err != nil {
			return err
		}
	}
	return nil
}

type ListItem struct {
	Key   string
	Value []byte
}

// List walks prefix in key order. The returned cursor is "end" once exhausted.
func (t *warpTxn) List(prefix DatabaseKey, limit *uint64, cursor *string) ([]ListItem, string, error) {
	if isFixed(prefix.String()) {
		return nil, "", DBError("cannot iterate thru fixed keys")
	}
	var startCursor DatabaseKey
	if cursor != nil && *cursor != "" {
		startCursor = DatabaseKey(*cursor)
	}
	if startCursor.String() == endCursor {
		return []ListItem{}, endCursor, nil
	}
	if limit == nil {
		defaultLimit := uint64(20)
		limit = &defaultLimit
	}

	opts := badger.DefaultIteratorOptions
	opts.PrefetchSize = 20
	it := t.txn.NewIterator(opts)
	defer it.Close()

	p := prefix.Bytes()
	start := p
	if !startCursor.IsEmpty() {
		start = startCursor.Bytes()
	}

	items := make([]ListItem, 0, *limit)
	var (
		nextKey string
		iterNum uint64
	)
	for it.Seek(start); it.ValidForPrefix(p); it.Next() {
		item := it.Item()
		key := string(item.KeyCopy(nil))
		if isFixed(key) {
			continue
		}
		if iterNum >= *limit {
			nextKey = key
			break
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return nil, "", err
		}
		items = append(items, ListItem{Key: key, Value: val})
		iterNum++
	}
	if nextKey == "" {
		nextKey = endCursor
	}
	return items, nextKey, nil
}

func (t *warpTxn) Commit() error {
	return t.txn.Commit()
}

func (t *warpTxn) Rollback() {
	t.txn.Discard()
}

func (db *DB) Sync() error {
	if db == nil || db.badger == nil {
		return ErrNotRunning
	}
	if db.badgerOpts.InMemory {
		return nil
	}
	return db.badger.Sync()
}

func (db *DB) Path() string {
	if db == nil {
		return ""
	}
	return db.dbPath
}

func (db *DB) IsClosed() bool {
	if db == nil {
		return true
	}
	return !db.isRunning.Load()
}

func (db *DB) Close() {
	if db == nil {
		return
	}
	if db.badger == nil || !db.isRunning.Load() {
		return
	}
	log.Infoln("database: closing")
	close(db.stopChan)
	db.gcWg.Wait()

	_ = db.Sync()
	if err := db.badger.Close(); err != nil {
		log.Errorf("database: close: %v", err)
		return
	}
	db.isRunning.Store(false)
	db.badger = nil
}

func IsNotFoundError(err error) bool {
	return err != nil && errors.Is(err, badger.ErrKeyNotFound)
}
