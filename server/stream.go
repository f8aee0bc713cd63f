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

package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	root "github.com/Warp-net/warpvote"
	"github.com/Warp-net/warpvote/domain"
	"github.com/Warp-net/warpvote/event"
	"github.com/Warp-net/warpvote/json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const (
	ackDelivered = "delivered"
	ackFailed    = "failed"
)

// stream forwards session events to one websocket client.
type stream struct {
	conn   *websocket.Conn
	nodeID func() string

	mx     sync.Mutex
	closed bool
}

func (st *stream) OnEvent(_ context.Context, ev domain.Event) string {
	body, err := json.Marshal(event.StreamEvent{
		Topic:      ev.Topic,
		Message:    ev.Message(),
		From:       ev.From,
		ReceivedAt: ev.ReceivedAt,
	})
	if err != nil {
		log.Errorf("server: stream: marshal event: %v", err)
		return ackFailed
	}
	raw := json.RawMessage(body)
	data, err := json.Marshal(event.Message{
		Body:      &raw,
		MessageId: uuid.New().String(),
		NodeId:    st.nodeID(),
		Path:      EventsPath,
		Timestamp: time.Now(),
		Version:   root.GetVersion().String(),
	})
	if err != nil {
		log.Errorf("server: stream: marshal envelope: %v", err)
		return ackFailed
	}

	st.mx.Lock()
	defer st.mx.Unlock()
	if st.closed {
		return ackFailed
	}
	_ = st.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := st.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Warnf("server: stream: write: %v", err)
		return ackFailed
	}
	return ackDelivered
}

func (st *stream) close() {
	st.mx.Lock()
	defer st.mx.Unlock()
	if st.closed {
		return
	}
	st.closed = true
	_ = st.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout),
	)
	_ = st.conn.Close()
}

func (s *Server) events(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warnf("server: websocket upgrade: %v", err)
		return nil
	}
	st := &stream{conn: conn, nodeID: s.node.PeerID}

	s.mx.Lock()
	prev := s.stream
	s.stream = st
	s.session.SetListener(st)
	s.mx.Unlock()
	if prev != nil {
		prev.close()
	}
	log.Infof("server: event stream opened by %s", conn.RemoteAddr())

	// the client only sends control frames; reading detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.mx.Lock()
	if s.stream == st {
		s.stream = nil
		s.session.SetListener(nil)
	}
	s.mx.Unlock()
	st.close()
	log.Infof("server: event stream closed by %s", conn.RemoteAddr())
	return nil
}

type jsonSerializer struct{}

func (jsonSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := json.JSON.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (jsonSerializer) Deserialize(c echo.Context, i interface{}) error {
	err := json.JSON.NewDecoder(c.Request().Body).Decode(i)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error()).SetInternal(err)
	}
	return nil
}
