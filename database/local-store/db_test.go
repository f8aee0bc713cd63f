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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestDBFirstRunAndGC(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	opts := DefaultOptions().
		WithIntervalGC(10 * time.Millisecond).
		WithSleepGC(time.Millisecond).
		WithDiscardRatioGC(0.7)

	db, err := New(dir, opts)
	require.NoError(t, err)
	assert.True(t, db.IsFirstRun())
	assert.True(t, db.IsClosed())
	assert.Empty(t, db.Stats())

	require.NoError(t, db.Run())
	assert.False(t, db.IsClosed())
	assert.Equal(t, 0.7, db.discardRatioGC)

	key := NewPrefixBuilder("/TEST").AddRootID("a").Build()
	require.NoError(t, db.Set(key, []byte("value")))

	// let the periodic collector tick at least once
	time.Sleep(30 * time.Millisecond)
	db.GC()

	stats := db.Stats()
	assert.NotEmpty(t, stats["size"])
	assert.NotEmpty(t, stats["lsm_size"])

	db.Close()
	assert.True(t, db.IsClosed())
	db.GC()

	reopened, err := New(dir, DefaultOptions())
	require.NoError(t, err)
	assert.False(t, reopened.IsFirstRun())
	require.NoError(t, reopened.Run())
	value, err := reopened.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "value", string(value))
	reopened.Close()
}

func TestDBInMemory(t *testing.T) {
	defer goleak.VerifyNone(t)

	db, err := New("", DefaultOptions().WithInMemory(true))
	require.NoError(t, err)
	require.NoError(t, db.Run())
	defer db.Close()

	key := NewPrefixBuilder("/TEST").AddRootID("ttl").Build()
	require.NoError(t, db.SetWithTTL(key, []byte("x"), time.Minute))
	_, err = db.Get(key)
	require.NoError(t, err)

	require.NoError(t, db.Delete(key))
	_, err = db.Get(key)
	assert.True(t, IsNotFoundError(err))

	// value log GC is a no-op in memory
	db.GC()
	assert.Contains(t, db.Stats(), "size")
}

func TestDBPathRequired(t *testing.T) {
	_, err := New("", DefaultOptions())
	assert.Error(t, err)
}
