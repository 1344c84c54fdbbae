package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/a-bouts/geo-anchor/api/model"
	"github.com/a-bouts/geo-anchor/tracking"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// stream takes one pose event per websocket message and answers each with a
// message of its own. Events of one connection are applied in order.
func (s *server) stream(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).WithField("session", session.ID).Error("Error upgrading stream")
		return
	}

	logger := log.WithField("session", session.ID)
	logger.Info("Stream opened")

	send := make(chan model.Message, 64)
	done := make(chan struct{})
	go writePump(conn, send, done)

	readPump(conn, session, send, done, logger)

	close(send)
	<-done
	logger.Info("Stream closed")
}

func readPump(conn *websocket.Conn, session *tracking.Session, send chan<- model.Message, done <-chan struct{}, logger *log.Entry) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithError(err).Warn("Stream read error")
			}
			return
		}

		var m model.Message
		var e model.Event
		if err := json.Unmarshal(data, &e); err != nil {
			m = model.Message{Type: model.MessageError, Error: err.Error()}
		} else {
			m = e.Apply(session)
		}

		if !deliver(send, done, m) {
			return
		}
	}
}

// deliver queues m for the writer. It returns false once the writer is gone.
func deliver(send chan<- model.Message, done <-chan struct{}, m model.Message) bool {
	select {
	case send <- m:
		return true
	case <-done:
		return false
	}
}

func writePump(conn *websocket.Conn, send <-chan model.Message, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
		close(done)
	}()

	for {
		select {
		case m, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
