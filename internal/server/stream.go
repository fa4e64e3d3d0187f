package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Stream protocol: the server sends terminal output as binary frames and
// lifecycle events as JSON text frames. Clients send input as binary
// frames; text frames carry JSON control messages:
//
//	{"type":"input","data":"ls\n"}
//	{"type":"resize","rows":40,"cols":120}
type controlMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Rows int    `json:"rows,omitempty"`
	Cols int    `json:"cols,omitempty"`
}

const writeTimeout = 10 * time.Second

// wsConn serializes writes to one WebSocket connection. gorilla/websocket
// permits a single concurrent writer, and output callbacks, close
// notifications, and control replies all race here otherwise.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"), deadline)
	_ = c.conn.Close()
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Reject unknown sessions before upgrading.
	if _, err := s.svc.Get(id); err != nil {
		s.writeServiceError(w, err)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := &wsConn{conn: raw}
	logger := s.log.With().Str("session", id).Str("remote", r.RemoteAddr).Logger()
	logger.Debug().Msg("stream opened")

	sub, err := s.svc.Subscribe(id,
		func(data []byte) {
			// On write failure the read loop notices the dead connection
			// and unsubscribes; nothing to do here.
			_ = conn.write(websocket.BinaryMessage, data)
		},
		func() {
			_ = conn.writeJSON(controlMessage{Type: "closed"})
			conn.close()
		},
	)
	if err != nil {
		_ = conn.writeJSON(controlMessage{Type: "error", Data: "session not found"})
		conn.close()
		return
	}
	defer s.svc.Unsubscribe(sub)

	for {
		messageType, data, err := raw.ReadMessage()
		if err != nil {
			logger.Debug().Msg("stream closed")
			return
		}
		switch messageType {
		case websocket.BinaryMessage:
			if err := s.svc.WriteInput(id, data); err != nil {
				logger.Debug().Err(err).Msg("input rejected")
				return
			}
		case websocket.TextMessage:
			var msg controlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				logger.Warn().Err(err).Msg("malformed control message")
				continue
			}
			s.handleControl(id, msg, logger)
		}
	}
}

// handleControl applies one JSON control message to the session.
func (s *Server) handleControl(id string, msg controlMessage, logger zerolog.Logger) {
	switch msg.Type {
	case "input":
		if err := s.svc.WriteInput(id, []byte(msg.Data)); err != nil {
			logger.Debug().Err(err).Msg("input rejected")
		}
	case "resize":
		if err := s.svc.Resize(id, msg.Rows, msg.Cols); err != nil {
			logger.Debug().Err(err).Msg("resize rejected")
		}
	default:
		logger.Warn().Str("type", msg.Type).Msg("unknown control message")
	}
}
