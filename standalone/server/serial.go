package server

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"

	"resinctl/protocol"
)

// Serial runs the command protocol on a serial console
type Serial struct {
	port   io.ReadWriteCloser
	name   string
	q      Enqueuer
	logger *zap.Logger

	mu sync.Mutex
}

// NewSerial creates a console on an open port. The port should be opened
// with a read timeout so Run can notice cancellation.
func NewSerial(port io.ReadWriteCloser, name string, q Enqueuer, logger *zap.Logger) *Serial {
	return &Serial{
		port:   port,
		name:   name,
		q:      q,
		logger: logger.Named("serial").With(zap.String("port", name)),
	}
}

// Send implements queue.Sink
func (s *Serial) Send(resp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.port, resp+"\r\n")
	return err
}

// Run reads commands until ctx ends or the port fails. The port is closed
// on return.
func (s *Serial) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// Unblocks a Read on ports opened without a timeout
			s.port.Close()
		case <-stop:
			s.port.Close()
		}
	}()
	s.logger.Info("serial console started")

	buf := protocol.NewLineBuffer(protocol.MaxLineLength)
	chunk := make([]byte, 256)
	for ctx.Err() == nil {
		n, err := s.port.Read(chunk)
		if n > 0 {
			// A garbled line on a UART is dropped, the console stays up
			if ferr := feed(buf, chunk[:n], s.q, s, true); ferr != nil {
				s.logger.Warn("dropped input", zap.Error(ferr))
			}
		}
		if err != nil {
			// tarm reports a read timeout as EOF
			if errors.Is(err, io.EOF) {
				continue
			}
			if ctx.Err() != nil {
				break
			}
			s.logger.Error("serial read failed", zap.Error(err))
			return err
		}
	}
	s.logger.Info("serial console stopped")
	return nil
}
