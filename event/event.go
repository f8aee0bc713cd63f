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

package event

import (
	"time"

	"github.com/Warp-net/warpvote/domain"
	"github.com/Warp-net/warpvote/json"
	jsoniter "github.com/json-iterator/go"
)

const (
	Accepted    acceptedResponse = `{"code":0,"message":"Accepted"}`
	TopicsTopic string           = "topics"
)

type acceptedResponse string

type MessageType string

func (t MessageType) String() string {
	return string(t)
}

const (
	RegisterTopicType              MessageType = "RegisterTopic"
	InterestedType                 MessageType = "Interested"
	InterestedResponseType         MessageType = "InterestedResponse"
	VoteLeaderRequestType          MessageType = "VoteLeaderRequest"
	ResultVoteType                 MessageType = "ResultVote"
	IncludeNewValidatedContentType MessageType = "IncludeNewValidatedContent"
)

type Vote string

const (
	VoteYes Vote = "Yes"
	VoteNo  Vote = "No"
)

func VoteFromDecision(d domain.Decision) Vote {
	if d == domain.Accept {
		return VoteYes
	}
	return VoteNo
}

// ContentMessage is the gossip payload of the validation protocol.
// Type selects which of the optional fields are meaningful.
type ContentMessage struct {
	Type MessageType `json:"type"`

	Topic           string   `json:"topic,omitempty"`
	IdVotation      string   `json:"id_votation,omitempty"`
	Content         string   `json:"content,omitempty"`
	ContentRef      string   `json:"content_ref,omitempty"`
	PublisherPeerId string   `json:"publisher_peer_id,omitempty"`
	VotersPeerId    []string `json:"voters_peer_id,omitempty"`
	LeaderPeerId    string   `json:"leader_peer_id,omitempty"`
	TtlSecs         uint64   `json:"ttl_secs,omitempty"`
	Signature       string   `json:"signature,omitempty"`
	Result          Vote     `json:"result,omitempty"`
	Approved        *bool    `json:"approved,omitempty"`
}

func (m ContentMessage) IsValid() bool {
	switch m.Type {
	case RegisterTopicType:
		return m.Topic != ""
	case InterestedType:
		return m.IdVotation != "" && m.Content != ""
	case InterestedResponseType:
		return m.IdVotation != ""
	case VoteLeaderRequestType:
		return m.IdVotation != "" && m.LeaderPeerId != "" && len(m.VotersPeerId) > 0
	case ResultVoteType:
		return m.IdVotation != "" && (m.Result == VoteYes || m.Result == VoteNo)
	case IncludeNewValidatedContentType:
		return m.IdVotation != "" && m.Approved != nil
	default:
		return false
	}
}

// SigningBytes returns the canonical form signed by the votation publisher.
func (m ContentMessage) SigningBytes() ([]byte, error) {
	unsigned := m
	unsigned.Signature = ""
	return json.Marshal(unsigned)
}

// DecodeContentMessage reports false for payloads that are not protocol messages.
func DecodeContentMessage(data []byte) (ContentMessage, bool) {
	if len(data) == 0 || data[0] != '{' {
		return ContentMessage{}, false
	}
	var msg ContentMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ContentMessage{}, false
	}
	if !msg.IsValid() {
		return ContentMessage{}, false
	}
	return msg, true
}

func NewRegisterTopic(topic string) ContentMessage {
	return ContentMessage{Type: RegisterTopicType, Topic: topic}
}

func NewInterested(idVotation, content string) ContentMessage {
	return ContentMessage{Type: InterestedType, IdVotation: idVotation, Content: content}
}

func NewInterestedResponse(idVotation string) ContentMessage {
	return ContentMessage{Type: InterestedResponseType, IdVotation: idVotation}
}

func NewResultVote(idVotation string, result Vote) ContentMessage {
	return ContentMessage{Type: ResultVoteType, IdVotation: idVotation, Result: result}
}

func NewIncludeNewValidatedContent(idVotation, content string, approved bool) ContentMessage {
	return ContentMessage{
		Type:       IncludeNewValidatedContentType,
		IdVotation: idVotation,
		Content:    content,
		Approved:   &approved,
	}
}

// Message is the envelope of the local API event stream.
type Message struct {
	Body      *jsoniter.RawMessage `json:"body"`
	MessageId string               `json:"message_id"`
	NodeId    string               `json:"node_id"`
	Path      string               `json:"path"`
	Timestamp time.Time            `json:"timestamp,omitempty"`
	Version   string               `json:"version"`
}

// ConnectEvent defines model for ConnectEvent.
type ConnectEvent struct {
	ServerAddress string `json:"server_address"`
	PeerId        string `json:"peer_id"`
	Username      string `json:"username"`
}

// TopicEvent defines model for TopicEvent.
type TopicEvent struct {
	Name string `json:"name"`
}

// PublishEvent defines model for PublishEvent.
type PublishEvent struct {
	Message string `json:"message"`
}

// VoteEvent defines model for VoteEvent.
type VoteEvent struct {
	Decision string `json:"decision"`
}

// SubmitContentEvent defines model for SubmitContentEvent.
type SubmitContentEvent struct {
	Topic   string `json:"topic"`
	Content string `json:"content"`
}

type StateResponse struct {
	State         string `json:"state"`
	ServerAddress string `json:"server_address,omitempty"`
}

type TopicsResponse struct {
	Topics []string `json:"topics"`
}

type ReputationsResponse struct {
	Topic       string              `json:"topic"`
	Reputations []domain.Reputation `json:"reputations"`
}

type VotationsResponse struct {
	Votations []domain.Votation `json:"votations"`
}

type SubmitContentResponse struct {
	VotationId domain.ID `json:"votation_id"`
}

type VotersResponse struct {
	VotationId domain.ID `json:"votation_id"`
	Voters     []string  `json:"voters"`
}

type TopicPeersResponse struct {
	Topic string   `json:"topic"`
	Peers []string `json:"peers"`
}

type StatsResponse struct {
	NodeId string            `json:"node_id,omitempty"`
	Stats  map[string]string `json:"stats"`
}

type ValidatedContentResponse struct {
	Contents []domain.ValidatedContent `json:"contents"`
}

// StreamEvent is what the event stream writes for every delivered event.
type StreamEvent struct {
	Topic      string    `json:"topic"`
	Message    string    `json:"message"`
	From       string    `json:"from,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// ErrorResponse defines model for ErrorResponse.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e ResponseError) Error() string {
	return e.Message
}
