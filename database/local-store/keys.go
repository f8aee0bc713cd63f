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
	"strconv"
	"strings"
	"time"
)

const (
	Delimeter = "/"

	FixedKey      = "fixed"
	FixedRangeKey = RangePrefix(FixedKey)
	NoneRangeKey  = RangePrefix("none")
)

type (
	RangePrefix string
	DatabaseKey string
)

func (k DatabaseKey) String() string {
	return string(k)
}

func (k DatabaseKey) Bytes() []byte {
	return []byte(k)
}

func (k DatabaseKey) IsEmpty() bool {
	return k == ""
}

type PrefixBuilder struct {
	parts []string
}

func NewPrefixBuilder(namespace string) *PrefixBuilder {
	return &PrefixBuilder{parts: []string{strings.Trim(namespace, Delimeter)}}
}

func (b *PrefixBuilder) AddRootID(id string) *PrefixBuilder {
	b.parts = append(b.parts, id)
	return b
}

func (b *PrefixBuilder) AddRange(r RangePrefix) *PrefixBuilder {
	b.parts = append(b.parts, string(r))
	return b
}

func (b *PrefixBuilder) AddParentId(id string) *PrefixBuilder {
	b.parts = append(b.parts, id)
	return b
}

func (b *PrefixBuilder) AddSubPrefix(p string) *PrefixBuilder {
	b.parts = append(b.parts, p)
	return b
}

// AddTimestamp makes older entries sort first.
func (b *PrefixBuilder) AddTimestamp(t time.Time) *PrefixBuilder {
	b.parts = append(b.parts, strconv.FormatInt(t.UnixNano(), 10))
	return b
}

func (b *PrefixBuilder) Build() DatabaseKey {
	return DatabaseKey(Delimeter + strings.Join(b.parts, Delimeter))
}
