package server

import (
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"resinctl/protocol"
	"resinctl/standalone/queue"
)

// WS serves the command protocol over WebSocket: each text message is one
// command line and each response is sent as one text message.
type WS struct {
	q        Enqueuer
	upgrader websocket.Upgrader
	observer ConnObserver
	logger   *zap.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewWS creates the WebSocket command handler
func NewWS(q Enqueuer, logger *zap.Logger) *WS {
	return &WS{
		q: q,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  protocol.MaxLineLength,
			WriteBufferSize: protocol.MaxLineLength,
			CheckOrigin: func(r *http.Request) bool {
				return true // LAN controller, hosts connect from anywhere
			},
		},
		logger: logger.Named("ws"),
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// CloseAll drops every open WebSocket connection
func (s *WS) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// SetObserver installs the connection observer. Call before serving.
func (s *WS) SetObserver(o ConnObserver) {
	s.observer = o
}

type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsSink) Send(resp string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, []byte(resp))
}

// ServeHTTP upgrades the request and reads commands until the client goes
// away.
func (s *WS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(protocol.MaxLineLength)
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	log := s.logger.With(zap.String("conn", uuid.New().String()), zap.String("remote", r.RemoteAddr))
	log.Info("client connected")
	if s.observer != nil {
		s.observer.ConnOpened(TransportWS)
	}
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		if s.observer != nil {
			s.observer.ConnClosed(TransportWS)
		}
		log.Info("client disconnected")
	}()

	sink := &wsSink{conn: conn}
	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage {
			log.Warn("closing connection: binary message")
			return
		}
		if !utf8.Valid(msg) {
			log.Warn("closing connection", zap.Error(ErrInvalidEncoding))
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInvalidFramePayloadData, ErrInvalidEncoding.Error()),
				time.Now().Add(writeTimeout))
			return
		}
		line := strings.TrimSpace(string(msg))
		s.q.Put(queue.Entry{Text: line, Sink: sink})
	}
}
