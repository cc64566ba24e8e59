package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"resinctl/protocol"
	"resinctl/standalone/queue"
)

// writeTimeout bounds a response write to a stalled client
const writeTimeout = 5 * time.Second

// TCP is the line-protocol command server
type TCP struct {
	addr     string
	q        Enqueuer
	observer ConnObserver
	logger   *zap.Logger

	mu    sync.Mutex
	ln    net.Listener
	conns map[string]net.Conn
	wg    sync.WaitGroup
}

// NewTCP creates a server for addr (":8899" style)
func NewTCP(addr string, q Enqueuer, logger *zap.Logger) *TCP {
	return &TCP{
		addr:   addr,
		q:      q,
		logger: logger.Named("tcp"),
		conns:  make(map[string]net.Conn),
	}
}

// SetObserver installs the connection observer. Call before Serve.
func (s *TCP) SetObserver(o ConnObserver) {
	s.observer = o
}

// Listen binds the listening socket
func (s *TCP) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.logger.Info("command server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, nil before Listen
func (s *TCP) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Run listens and serves until ctx ends
func (s *TCP) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections until ctx ends, then closes every open
// connection and waits for their readers.
func (s *TCP) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("tcp: Serve called before Listen")
	}

	go func() {
		<-ctx.Done()
		ln.Close()
		s.mu.Lock()
		for _, c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				s.logger.Info("command server stopped")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.wg.Wait()
			return err
		}

		id := uuid.New().String()
		s.mu.Lock()
		s.conns[id] = conn
		if ctx.Err() != nil {
			conn.Close()
		}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(id, conn)
		}()
	}
}

// connSink writes responses back to one connection
type connSink struct {
	mu   sync.Mutex
	conn net.Conn
}

func (c *connSink) Send(resp string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := io.WriteString(c.conn, resp+"\n")
	return err
}

func (s *TCP) handle(id string, conn net.Conn) {
	log := s.logger.With(zap.String("conn", id), zap.String("remote", conn.RemoteAddr().String()))
	log.Info("client connected")
	if s.observer != nil {
		s.observer.ConnOpened(TransportTCP)
	}

	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
		if s.observer != nil {
			s.observer.ConnClosed(TransportTCP)
		}
		log.Info("client disconnected")
	}()

	sink := &connSink{conn: conn}
	buf := protocol.NewLineBuffer(protocol.MaxLineLength)
	chunk := make([]byte, 512)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			if ferr := feed(buf, chunk[:n], s.q, sink, false); ferr != nil {
				log.Warn("closing connection", zap.Error(ferr))
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Warn("read failed", zap.Error(err))
			}
			return
		}
	}
}

var _ queue.Sink = (*connSink)(nil)
