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

package logging

import (
	"io"
	"os"
	"time"

	golog "github.com/ipfs/go-log/v2"
	log "github.com/sirupsen/logrus"
)

const (
	TextFormat = "text"
	JSONFormat = "json"
)

// noisy libp2p subsystems kept at error level
var libp2pSubsystems = []string{"pubsub", "swarm2", "basichost", "net/identify", "connmgr"}

func Init(level, format string) {
	InitWithOutput(level, format, os.Stdout)
}

func InitWithOutput(level, format string, out io.Writer) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	if format == JSONFormat {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.DateTime})
	} else {
		log.SetFormatter(&log.TextFormatter{TimestampFormat: time.DateTime})
	}
	log.SetOutput(out)

	p2pLevel := "error"
	if lvl >= log.DebugLevel {
		p2pLevel = "warn"
	}
	for _, subsystem := range libp2pSubsystems {
		_ = golog.SetLogLevel(subsystem, p2pLevel)
	}
}
