// Package proxy streams session commands over a websocket.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zj793039327/jBrowserDriver/internal/command"
	"github.com/zj793039327/jBrowserDriver/internal/session"
	"github.com/zj793039327/jBrowserDriver/pkg/models"
)

const (
	maxFrameBytes = 1 << 20
	pongWait      = 60 * time.Second
	pingPeriod    = pongWait * 9 / 10
	writeWait     = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Sessions looks up live sessions.
type Sessions interface {
	Session(id string) (*session.Session, error)
}

type Server struct {
	sessions Sessions
	router   *command.Router
	log      logrus.FieldLogger
}

func NewServer(sessions Sessions, router *command.Router, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{sessions: sessions, router: router, log: log}
}

// HandleCommandStream upgrades the request and answers every CommandRequest
// frame with a CommandResponse frame, in order.
func (s *Server) HandleCommandStream(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := s.sessions.Session(sessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("failed to upgrade command stream")
		return
	}
	defer conn.Close()

	log := s.log.WithField("session", sessionID)
	log.Info("command stream connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var writeMu sync.Mutex
	write := func(msgType int, payload []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(msgType, payload)
	}

	conn.SetReadLimit(maxFrameBytes)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go s.keepalive(ctx, write)

	err = s.serve(ctx, conn, sess, write)
	if err != nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		log.WithError(err).Warn("command stream ended")
	}
	log.Info("command stream disconnected")
}

func (s *Server) serve(ctx context.Context, conn *websocket.Conn, sess *session.Session, write func(int, []byte) error) error {
	for {
		// the deadline runs from the last answer, not from the last ping
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var resp models.CommandResponse
		var req models.CommandRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			resp.Error = &models.CommandError{Code: command.CodeInvalidArgument, Message: "malformed command frame: " + err.Error()}
		} else {
			resp = s.router.Dispatch(ctx, sess, req)
		}

		payload, err := json.Marshal(resp)
		if err != nil {
			payload, _ = json.Marshal(models.CommandResponse{
				ID:    resp.ID,
				Error: &models.CommandError{Code: command.CodeUnknownError, Message: "result is not serializable: " + err.Error()},
			})
		}
		if err := write(websocket.TextMessage, payload); err != nil {
			return err
		}
	}
}

func (s *Server) keepalive(ctx context.Context, write func(int, []byte) error) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
