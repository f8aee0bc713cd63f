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

package session

import (
	"time"

	"github.com/Warp-net/warpvote/core/bridge"
	"github.com/Warp-net/warpvote/core/metrics"
)

type Options struct {
	requestTimeout time.Duration
	eventBuffer    int
	metrics        *metrics.Metrics
}

func DefaultOptions() *Options {
	return &Options{
		requestTimeout: 0,
		eventBuffer:    bridge.DefaultBufferSize,
	}
}

// WithRequestTimeout bounds every engine request. Zero disables the bound.
func (opt *Options) WithRequestTimeout(d time.Duration) *Options {
	if d < 0 {
		d = 0
	}
	opt.requestTimeout = d
	return opt
}

func (opt *Options) WithEventBuffer(n int) *Options {
	opt.eventBuffer = n
	return opt
}

func (opt *Options) WithMetrics(m *metrics.Metrics) *Options {
	opt.metrics = m
	return opt
}
