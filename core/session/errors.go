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
	"fmt"

	"github.com/Warp-net/warpvote/core/warpnet"
	"github.com/cockroachdb/errors"
)

// ValidationError is returned before any engine call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("session: invalid %s: %s", e.Field, e.Reason)
}

func newValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

type StateError string

func (e StateError) Error() string {
	return string(e)
}

const (
	ErrAlreadyConnected StateError = "session: already connected"
	ErrNotConnected     StateError = "session: not connected"
	ErrDisconnected     StateError = "session: disconnected"
)

type VotationError string

func (e VotationError) Error() string {
	return string(e)
}

const ErrUnknownVotation VotationError = "session: unknown votation"

// ErrTopicAlreadyExists is reported by CreateTopic for a name known locally or to the network.
var ErrTopicAlreadyExists = warpnet.ErrTopicAlreadyExists

const (
	opConnect    = "connect"
	opDisconnect = "disconnect"
	opRegister   = "register topic"
	opUnregister = "unregister topic"
	opCreate     = "create topic"
	opPeers      = "topic peers"
	opReputation = "query reputations"
	opStatus     = "votation status"
	opVote       = "cast vote"
	opSubmit     = "submit content"
	opPublish    = "publish"
	opValidated  = "validated content"
)

var (
	ErrConnectFailed = errors.New("session: connect failed")
	ErrQueryFailed   = errors.New("session: reputation query failed")
)

// EngineError carries a failure reported by the engine verbatim.
type EngineError struct {
	Op     string
	Reason string
	Err    error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("session: %s: %s", e.Op, e.Reason)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) Is(target error) bool {
	switch target {
	case ErrConnectFailed:
		return e.Op == opConnect
	case ErrQueryFailed:
		return e.Op == opReputation
	}
	return false
}

// wrapEngineError leaves session and topic errors untouched.
func wrapEngineError(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		stateErr StateError
		valErr   *ValidationError
		engErr   *EngineError
	)
	switch {
	case errors.As(err, &stateErr), errors.As(err, &valErr), errors.As(err, &engErr):
		return err
	case errors.Is(err, warpnet.ErrTopicAlreadyExists):
		return warpnet.ErrTopicAlreadyExists
	}
	return &EngineError{Op: op, Reason: err.Error(), Err: err}
}
