// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relabs-tech/device_mapper/internal/axis"
	"github.com/relabs-tech/device_mapper/internal/calibration"
	"github.com/relabs-tech/device_mapper/internal/mapper"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is a client request on the calibration socket.
type WSMessage struct {
	Action  string       `json:"action"` // start, accept, cancel
	Target  string       `json:"target,omitempty"`
	Kind    axis.Kind    `json:"kind,omitempty"`
	Axis    axis.Axis    `json:"axis,omitempty"`
	Channel axis.Channel `json:"channel,omitempty"`
}

// WSResponse is a server message on the calibration socket.
type WSResponse struct {
	Type         string          `json:"type"` // started, phase, progress, complete, cancelled, error
	Session      string          `json:"session,omitempty"`
	Phase        string          `json:"phase,omitempty"`
	Progress     float64         `json:"progress,omitempty"`
	AwaitsAccept bool            `json:"awaits_accept,omitempty"`
	Results      *mapper.Outcome `json:"results,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// wsSession is one socket and the calibration session it started.
type wsSession struct {
	conn *websocket.Conn

	mu    sync.Mutex // serializes writes and guards the fields below
	id    string
	phase string
}

func (ws *wsSession) send(resp WSResponse) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.conn.WriteJSON(resp)
}

func (ws *wsSession) session() string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.id
}

func (ws *wsSession) setSession(id, phase string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.id, ws.phase = id, phase
}

func (s *server) calibrationWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("calibration: websocket upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ws := &wsSession{conn: conn}
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.watchCalibration(ctx, ws)
	}()

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("calibration: websocket read error", zap.Error(err))
			}
			break
		}
		s.handleWSMessage(ws, msg)
	}

	cancel()
	<-done

	// A session nobody watches any more is abandoned.
	if id := ws.session(); s.svc.CancelCalibrationSession(id) {
		s.logger.Info("calibration: client left, session cancelled", zap.String("session", id))
	}
}

func (s *server) handleWSMessage(ws *wsSession, msg WSMessage) {
	switch msg.Action {
	case "start":
		if msg.Channel == axis.None {
			ws.send(WSResponse{Type: "error", Message: "start needs a channel"})
			return
		}
		info, err := s.svc.StartCalibration(msg.Target, msg.Kind, msg.Axis, msg.Channel)
		if err != nil {
			ws.send(WSResponse{Type: "error", Message: err.Error()})
			return
		}
		ws.setSession(info.ID, info.Phase)
		ws.send(WSResponse{
			Type:         "started",
			Session:      info.ID,
			Phase:        info.Phase,
			AwaitsAccept: info.AwaitsAccept,
		})

	case "accept":
		if err := s.svc.AcceptCalibration(); err != nil {
			ws.send(WSResponse{Type: "error", Message: err.Error()})
		}

	case "cancel":
		id := ws.session()
		if !s.svc.CancelCalibrationSession(id) {
			ws.send(WSResponse{Type: "error", Message: calibration.ErrNoSession.Error()})
			return
		}
		s.logger.Info("calibration: cancelled by user", zap.String("session", id))

	default:
		ws.send(WSResponse{Type: "error", Message: "unknown action " + msg.Action})
	}
}

// watchCalibration streams the progress of the session ws started until
// ctx is done.
func (s *server) watchCalibration(ctx context.Context, ws *wsSession) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := s.reportCalibration(ws); err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				s.logger.Debug("calibration: websocket write error", zap.Error(err))
			}
			return
		}
	}
}

func (s *server) reportCalibration(ws *wsSession) error {
	ws.mu.Lock()
	id, phase := ws.id, ws.phase
	ws.mu.Unlock()
	if id == "" {
		return nil
	}

	if info, ok := s.svc.Calibration(s.now()); ok && info.ID == id {
		if info.Phase != phase {
			ws.setSession(id, info.Phase)
			if err := ws.send(WSResponse{Type: "phase", Session: id, Phase: info.Phase, AwaitsAccept: info.AwaitsAccept}); err != nil {
				return err
			}
		}
		return ws.send(WSResponse{Type: "progress", Session: id, Phase: info.Phase, Progress: info.Progress})
	}

	ws.setSession("", "")
	out, ok := s.svc.LastOutcome()
	if !ok || out.ID != id {
		return ws.send(WSResponse{Type: "error", Session: id, Message: "calibration session lost"})
	}
	typ := "complete"
	if out.Status == calibration.Cancelled {
		typ = "cancelled"
	}
	return ws.send(WSResponse{Type: typ, Session: id, Results: &out})
}
