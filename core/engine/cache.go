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
	"fmt"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultSeenCacheSize = 4096
	defaultSeenCacheTTL  = 10 * time.Minute
)

// seenCache remembers recently handled protocol messages.
// Entries expire lazily on lookup.
type seenCache struct {
	ttl time.Duration
	c   *lru.Cache[string, time.Time]
}

func newSeenCache(size int, ttl time.Duration) *seenCache {
	if size <= 0 {
		size = defaultSeenCacheSize
	}
	if ttl <= 0 {
		ttl = defaultSeenCacheTTL
	}
	c, _ := lru.New[string, time.Time](size)
	return &seenCache{ttl: ttl, c: c}
}

// Seen reports whether key was already recorded and records it otherwise.
func (c *seenCache) Seen(key any) bool {
	innerKey := castKeyToString(key)
	now := time.Now()
	if expiresAt, ok := c.c.Get(innerKey); ok && now.Before(expiresAt) {
		return true
	}
	c.c.Add(innerKey, now.Add(c.ttl))
	return false
}

func castKeyToString(key any) string {
	switch typedKey := key.(type) {
	case string:
		return typedKey
	case []byte:
		return string(typedKey)
	case fmt.Stringer:
		return typedKey.String()
	case int:
		return strconv.Itoa(typedKey)
	case int64:
		return strconv.FormatInt(typedKey, 10)
	case uint64:
		return strconv.FormatUint(typedKey, 10)
	default:
		return fmt.Sprintf("%v", key)
	}
}
