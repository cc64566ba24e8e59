package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"resinctl/host/serial"
	"resinctl/protocol"
)

// lineConn carries one command line out and one response line back
type lineConn interface {
	WriteLine(line string, deadline time.Time) error
	ReadLine(deadline time.Time) (string, error)
	Close() error
}

// streamConn frames lines with "\n" over a byte stream (TCP, serial)
type streamConn struct {
	rw     io.ReadWriteCloser
	reader *bufio.Reader
	// setDeadline is nil for streams without deadlines (serial)
	setDeadline func(time.Time) error
}

func newStreamConn(rw io.ReadWriteCloser) *streamConn {
	c := &streamConn{
		rw:     rw,
		reader: bufio.NewReaderSize(rw, protocol.MaxLineLength),
	}
	if nc, ok := rw.(net.Conn); ok {
		c.setDeadline = nc.SetDeadline
	}
	return c
}

func (c *streamConn) WriteLine(line string, deadline time.Time) error {
	if c.setDeadline != nil {
		if err := c.setDeadline(deadline); err != nil {
			return err
		}
	}
	_, err := io.WriteString(c.rw, line+"\n")
	return err
}

func (c *streamConn) ReadLine(deadline time.Time) (string, error) {
	for {
		if c.setDeadline == nil && time.Now().After(deadline) {
			return "", fmt.Errorf("read response: %w", ErrTimeout)
		}
		line, err := c.reader.ReadString('\n')
		if err == nil {
			return strings.TrimRight(line, "\r\n"), nil
		}
		// tarm/serial reports a read timeout as io.EOF; keep polling
		// until the deadline with whatever partial line was read
		if errors.Is(err, io.EOF) && c.setDeadline == nil {
			if line != "" {
				rest, err := c.ReadLine(deadline)
				return line + rest, err
			}
			continue
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return "", fmt.Errorf("read response: %w", ErrTimeout)
		}
		return "", err
	}
}

func (c *streamConn) Close() error {
	return c.rw.Close()
}

// wsConn sends one command per text message
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) WriteLine(line string, deadline time.Time) error {
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *wsConn) ReadLine(deadline time.Time) (string, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return "", err
	}
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return "", fmt.Errorf("read response: %w", ErrTimeout)
		}
		return "", err
	}
	return strings.TrimRight(string(msg), "\r\n"), nil
}

func (c *wsConn) Close() error {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

func dialTCP(addr string, timeout time.Duration) (lineConn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return newStreamConn(conn), nil
}

func dialWS(url string, timeout time.Duration) (lineConn, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = timeout
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

func openSerial(cfg *serial.Config) (lineConn, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	return newStreamConn(port), nil
}
