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
	"context"

	"github.com/Warp-net/warpvote/domain"
)

// Engine is the P2P validation engine the session drives.
// Calls may block on the network; the session bounds them with its own contexts.
type Engine interface {
	Connect(ctx context.Context, serverAddress, peerID, username string) error
	Disconnect(ctx context.Context) error

	RegisterTopic(ctx context.Context, name string) error
	UnregisterTopic(ctx context.Context, name string) error
	CreateTopic(ctx context.Context, name string) error
	TopicPeers(ctx context.Context, topic string) ([]string, error)

	QueryReputations(ctx context.Context, topic string) ([]domain.Reputation, error)
	QueryReputation(ctx context.Context, topic, peerID string) (domain.Reputation, error)

	VotationStatus(ctx context.Context, votationID string) (domain.VotationStatus, error)
	SubmitVote(ctx context.Context, votationID string, d domain.Decision) error

	SubmitContent(ctx context.Context, topic, content string) (string, error)
	Publish(ctx context.Context, topic string, payload []byte) error
	ValidatedContent(ctx context.Context) ([]domain.ValidatedContent, error)

	// RegisterEventSink installs the callback for engine originated events.
	// The sink may be invoked from any goroutine.
	RegisterEventSink(sink func(domain.Event))
}
