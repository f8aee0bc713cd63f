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

package domain

import (
	"strings"
	"time"
)

type ID = string

// PeerAddress defines the bootstrap peer locator captured at connect time.
type PeerAddress struct {
	Addr   string `json:"addr"`
	PeerID string `json:"peer_id"`
}

func (a PeerAddress) String() string {
	return a.Addr + "/p2p/" + a.PeerID
}

// Identity defines the local participant. Keys live inside the engine.
type Identity struct {
	Username string `json:"username"`
}

// Reputation defines a per-topic trust score reported by the engine.
type Reputation struct {
	PeerID string  `json:"peer_id"`
	Topic  string  `json:"topic"`
	Score  float64 `json:"score"`
}

type VotationState string

func (s VotationState) String() string {
	return string(s)
}

const (
	VotationPending  VotationState = "pending"
	VotationAccepted VotationState = "accepted"
	VotationRejected VotationState = "rejected"
)

// Votation defines a pending request for peer validation of a content item.
type Votation struct {
	ID         ID            `json:"id"`
	Topic      string        `json:"topic"`
	ContentRef string        `json:"content_ref"`
	Content    string        `json:"content"`
	Proposer   string        `json:"proposer"`
	Leader     string        `json:"leader"`
	Voters     []string      `json:"voters"`
	State      VotationState `json:"state"`
	ReceivedAt time.Time     `json:"received_at"`
}

type Decision string

const (
	Accept Decision = "accept"
	Reject Decision = "reject"
)

func (d Decision) IsValid() bool {
	return d == Accept || d == Reject
}

func (d Decision) String() string {
	return string(d)
}

// ParseDecision accepts "accept"/"reject" and their yes/no aliases.
func ParseDecision(s string) (Decision, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accept", "yes", "true":
		return Accept, true
	case "reject", "no", "false":
		return Reject, true
	default:
		return "", false
	}
}

// Event is the unit of asynchronous delivery from the engine to the listener.
type Event struct {
	Topic      string    `json:"topic"`
	Payload    []byte    `json:"payload"`
	From       string    `json:"from,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

func (e Event) Message() string {
	return string(e.Payload)
}

type VotationStage string

const (
	// StageCollecting means the publisher still waits for enough interested voters.
	StageCollecting VotationStage = "collecting"
	StageVoting     VotationStage = "voting"
	StageResolved   VotationStage = "resolved"
)

// VotationStatus defines the local view of one votation, whichever role the peer plays in it.
type VotationStatus struct {
	ID         ID            `json:"id"`
	Topic      string        `json:"topic"`
	ContentRef string        `json:"content_ref,omitempty"`
	State      VotationState `json:"state"`
	Stage      VotationStage `json:"stage"`
	Leader     string        `json:"leader,omitempty"`
	Voters     []string      `json:"voters"`
}

// ValidatedContent defines model for content that went through a votation.
type ValidatedContent struct {
	VotationID ID       `json:"votation_id"`
	Topic      string   `json:"topic"`
	Content    string   `json:"content"`
	ContentRef string   `json:"content_ref,omitempty"`
	Voters     []string `json:"voters,omitempty"`
	Approved   bool     `json:"approved"`
}

// ContentRequest defines model for submitted content collecting interested voters.
type ContentRequest struct {
	VotationID ID        `json:"votation_id"`
	Topic      string    `json:"topic"`
	Content    string    `json:"content"`
	ContentRef string    `json:"content_ref"`
	Interested []string  `json:"interested"`
	Proposed   bool      `json:"proposed"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// VotationRecord defines model for a votation as known to a voter or its leader.
type VotationRecord struct {
	ID         ID        `json:"id"`
	Topic      string    `json:"topic"`
	Content    string    `json:"content"`
	ContentRef string    `json:"content_ref"`
	Publisher  string    `json:"publisher"`
	Leader     string    `json:"leader"`
	Voters     []string  `json:"voters"`
	Resolved   bool      `json:"resolved"`
	CreatedAt  time.Time `json:"created_at"`
}

// TopicRecord defines model for a topic the local peer announced or joined.
type TopicRecord struct {
	Name      string    `json:"name"`
	Creator   string    `json:"creator,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
