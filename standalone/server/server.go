// Package server carries protocol lines between the outside world and the
// command queue: TCP, WebSocket and a serial console share one queue.
package server

import (
	"errors"
	"unicode/utf8"

	"resinctl/protocol"
	"resinctl/standalone/queue"
)

// Transport labels used in logs and metrics
const (
	TransportTCP    = "tcp"
	TransportWS     = "ws"
	TransportSerial = "serial"
)

// ErrInvalidEncoding is returned for command lines that are not UTF-8
var ErrInvalidEncoding = errors.New("invalid utf-8 in command line")

// Enqueuer accepts commands for the dispatcher
type Enqueuer interface {
	Put(e queue.Entry)
}

// ConnObserver is notified when connections open and close
type ConnObserver interface {
	ConnOpened(transport string)
	ConnClosed(transport string)
}

// feed frames data into lines and enqueues them with sink. A framing or
// decoding error is returned after the lines that preceded it are queued.
// With skipInvalid set, a line that is not UTF-8 is dropped and the lines
// after it are still queued; the first error is returned.
func feed(buf *protocol.LineBuffer, data []byte, q Enqueuer, sink queue.Sink, skipInvalid bool) error {
	lines, err := buf.Feed(data)
	var bad error
	for _, line := range lines {
		if !utf8.ValidString(line) {
			if !skipInvalid {
				return ErrInvalidEncoding
			}
			if bad == nil {
				bad = ErrInvalidEncoding
			}
			continue
		}
		q.Put(queue.Entry{Text: line, Sink: sink})
	}
	if bad != nil {
		return bad
	}
	return err
}
