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
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Warp-net/warpvote/core/metrics"
	"github.com/Warp-net/warpvote/core/session"
	"github.com/Warp-net/warpvote/domain"
	"github.com/Warp-net/warpvote/event"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
)

const (
	EventsPath   = "/v1/events"
	writeTimeout = 5 * time.Second
)

// Node reports the identity and runtime figures of the local peer.
type Node interface {
	PeerID() string
	Stats() map[string]string
}

// Server exposes the session over HTTP. The websocket at EventsPath
// is the session listener; a newer stream replaces the previous one.
type Server struct {
	e        *echo.Echo
	session  *session.Session
	node     Node
	upgrader websocket.Upgrader

	mx     sync.Mutex
	stream *stream
}

type noNode struct{}

func (noNode) PeerID() string           { return "" }
func (noNode) Stats() map[string]string { return map[string]string{} }

func NewServer(sess *session.Session, m *metrics.Metrics, node Node) *Server {
	if node == nil {
		node = noNode{}
	}
	s := &Server{
		e:       echo.New(),
		session: sess,
		node:    node,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     isLocalOrigin,
		},
	}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.JSONSerializer = jsonSerializer{}
	s.e.HTTPErrorHandler = s.handleError
	s.e.Use(middleware.Recover())

	v1 := s.e.Group("/v1")
	v1.POST("/connect", s.connect)
	v1.POST("/disconnect", s.disconnect)
	v1.GET("/state", s.state)
	v1.GET("/topics", s.topics)
	v1.POST("/topics", s.registerTopic)
	v1.POST("/topics/new", s.createTopic)
	v1.DELETE("/topics/:topic", s.unregisterTopic)
	v1.GET("/topics/:topic/peers", s.topicPeers)
	v1.GET("/topics/:topic/reputations", s.reputations)
	v1.GET("/topics/:topic/reputations/:peer", s.reputation)
	v1.POST("/topics/:topic/messages", s.publish)
	v1.GET("/votations/pending", s.pending)
	v1.GET("/votations/:id", s.votationStatus)
	v1.GET("/votations/:id/voters", s.voters)
	v1.POST("/votations/:id/vote", s.vote)
	v1.POST("/content", s.submitContent)
	v1.GET("/content", s.validatedContent)
	v1.GET("/stats", s.stats)
	v1.GET("/events", s.events)

	if m != nil {
		s.e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.e
}

func (s *Server) Start(addr string) error {
	log.Infof("server: listening on %s", addr)
	err := s.e.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mx.Lock()
	st := s.stream
	s.stream = nil
	s.mx.Unlock()
	if st != nil {
		st.close()
	}
	return s.e.Shutdown(ctx)
}

func isLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	origin = strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://")
	host, _, _ := strings.Cut(origin, ":")
	return host == "localhost" || host == "127.0.0.1" || host == "wails.localhost"
}

func (s *Server) connect(c echo.Context) error {
	var body event.ConnectEvent
	if err := c.Bind(&body); err != nil {
		return err
	}
	// the listener slot is cleared on every disconnect
	s.mx.Lock()
	if s.stream != nil {
		s.session.SetListener(s.stream)
	}
	s.mx.Unlock()

	ctx := c.Request().Context()
	if err := s.session.Connect(ctx, body.ServerAddress, body.PeerId, body.Username); err != nil {
		return err
	}
	return s.state(c)
}

func (s *Server) disconnect(c echo.Context) error {
	if err := s.session.Disconnect(c.Request().Context()); err != nil {
		return err
	}
	return s.state(c)
}

func (s *Server) state(c echo.Context) error {
	resp := event.StateResponse{State: s.session.State().String()}
	if addr, ok := s.session.ServerAddress(); ok {
		resp.ServerAddress = addr.String()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) topics(c echo.Context) error {
	return c.JSON(http.StatusOK, s.topicsResponse())
}

func (s *Server) registerTopic(c echo.Context) error {
	var body event.TopicEvent
	if err := c.Bind(&body); err != nil {
		return err
	}
	if err := s.session.RegisterTopic(c.Request().Context(), body.Name); err != nil {
		return err
	}
	return s.topics(c)
}

func (s *Server) createTopic(c echo.Context) error {
	var body event.TopicEvent
	if err := c.Bind(&body); err != nil {
		return err
	}
	if err := s.session.CreateTopic(c.Request().Context(), body.Name); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, s.topicsResponse())
}

func (s *Server) unregisterTopic(c echo.Context) error {
	if err := s.session.UnregisterTopic(c.Request().Context(), c.Param("topic")); err != nil {
		return err
	}
	return s.topics(c)
}

func (s *Server) topicPeers(c echo.Context) error {
	topic := c.Param("topic")
	peers, err := s.session.TopicPeers(c.Request().Context(), topic)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, event.TopicPeersResponse{Topic: topic, Peers: peers})
}

func (s *Server) topicsResponse() event.TopicsResponse {
	return event.TopicsResponse{Topics: s.session.Topics()}
}

func (s *Server) reputations(c echo.Context) error {
	topic := c.Param("topic")
	reps, err := s.session.Reputations(c.Request().Context(), topic)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, event.ReputationsResponse{Topic: topic, Reputations: reps})
}

func (s *Server) reputation(c echo.Context) error {
	rep, err := s.session.Reputation(c.Request().Context(), c.Param("topic"), c.Param("peer"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rep)
}

func (s *Server) publish(c echo.Context) error {
	var body event.PublishEvent
	if err := c.Bind(&body); err != nil {
		return err
	}
	err := s.session.Publish(c.Request().Context(), c.Param("topic"), []byte(body.Message))
	if err != nil {
		return err
	}
	return c.Blob(http.StatusAccepted, echo.MIMEApplicationJSON, []byte(event.Accepted))
}

func (s *Server) pending(c echo.Context) error {
	var votations []domain.Votation
	if topic := strings.TrimSpace(c.QueryParam("topic")); topic != "" {
		votations = s.session.PendingForTopic(topic)
	} else {
		votations = s.session.PendingToEvaluate()
	}
	return c.JSON(http.StatusOK, event.VotationsResponse{Votations: votations})
}

func (s *Server) votationStatus(c echo.Context) error {
	st, err := s.session.VotationStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) voters(c echo.Context) error {
	id := c.Param("id")
	voters, err := s.session.Voters(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, event.VotersResponse{VotationId: id, Voters: voters})
}

func (s *Server) vote(c echo.Context) error {
	var body event.VoteEvent
	if err := c.Bind(&body); err != nil {
		return err
	}
	d, ok := domain.ParseDecision(body.Decision)
	if !ok {
		d = domain.Decision(body.Decision)
	}
	if err := s.session.CastVote(c.Request().Context(), c.Param("id"), d); err != nil {
		return err
	}
	return c.Blob(http.StatusAccepted, echo.MIMEApplicationJSON, []byte(event.Accepted))
}

func (s *Server) submitContent(c echo.Context) error {
	var body event.SubmitContentEvent
	if err := c.Bind(&body); err != nil {
		return err
	}
	id, err := s.session.SubmitContent(c.Request().Context(), body.Topic, body.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, event.SubmitContentResponse{VotationId: id})
}

func (s *Server) validatedContent(c echo.Context) error {
	contents, err := s.session.ValidatedContent(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, event.ValidatedContentResponse{Contents: contents})
}

func (s *Server) stats(c echo.Context) error {
	return c.JSON(http.StatusOK, event.StatsResponse{NodeId: s.node.PeerID(), Stats: s.node.Stats()})
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, msg := statusOf(err)
	if code >= http.StatusInternalServerError {
		log.Errorf("server: %s %s: %v", c.Request().Method, c.Path(), err)
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, event.ResponseError{Code: code, Message: msg})
}

func statusOf(err error) (int, string) {
	var (
		httpErr  *echo.HTTPError
		valErr   *session.ValidationError
		stateErr session.StateError
		engErr   *session.EngineError
	)
	switch {
	case errors.As(err, &httpErr):
		if msg, ok := httpErr.Message.(string); ok {
			return httpErr.Code, msg
		}
		return httpErr.Code, http.StatusText(httpErr.Code)
	case errors.As(err, &valErr):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, session.ErrUnknownVotation):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, session.ErrDisconnected):
		return http.StatusServiceUnavailable, err.Error()
	case errors.As(err, &stateErr), errors.Is(err, session.ErrTopicAlreadyExists):
		return http.StatusConflict, err.Error()
	case errors.As(err, &engErr):
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
