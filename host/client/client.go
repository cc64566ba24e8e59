// Package client talks to a resin controller over its line protocol.
package client

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"resinctl/host/serial"
	"resinctl/protocol"
)

// DefaultTimeout bounds one command round trip. A full layer sequence at
// slow peel speeds takes tens of seconds.
const DefaultTimeout = 120 * time.Second

// ParkClearanceMM is the final lift after returning the plate at the end of
// a print.
const ParkClearanceMM = 2.0

var (
	// ErrNotConnected is returned when no connection is open
	ErrNotConnected = errors.New("not connected to controller")

	// ErrTimeout is returned when no response arrives in time
	ErrTimeout = errors.New("timed out waiting for response")
)

// ResponseError is a command the controller answered with an error, or
// with something other than the expected acknowledgement.
type ResponseError struct {
	Command  string
	Response string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Response)
}

// Client represents a connection to a resin controller
type Client struct {
	mu      sync.Mutex
	conn    lineConn
	timeout time.Duration

	// Connection state
	connected bool
}

// NewClient creates a new client instance (not yet connected)
func NewClient() *Client {
	return &Client{
		timeout: DefaultTimeout,
	}
}

// SetTimeout changes the per-command round-trip limit
func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// Connect connects to the controller's TCP command port ("host:port"; a
// bare host gets the default port)
func (c *Client) Connect(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = fmt.Sprintf("%s:%d", addr, protocol.DefaultPort)
	}
	conn, err := dialTCP(addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	c.attach(conn)
	return nil
}

// ConnectWS connects to the controller's WebSocket endpoint
// (ws://host:port/ws)
func (c *Client) ConnectWS(url string) error {
	conn, err := dialWS(url, 10*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	c.attach(conn)
	return nil
}

// ConnectSerial connects through the controller's serial console
func (c *Client) ConnectSerial(cfg *serial.Config) error {
	conn, err := openSerial(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	c.attach(conn)
	return nil
}

func (c *Client) attach(conn lineConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	c.connected = true
}

// Close closes the connection to the controller
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	c.connected = false
	return c.conn.Close()
}

// Send sends one command line and returns the controller's response line
// verbatim. Error responses are not converted to errors. Any transport
// error, a timeout included, drops the connection: a late response would
// otherwise be paired with the next command. Reconnect before sending again.
func (c *Client) Send(line string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return "", ErrNotConnected
	}

	deadline := time.Now().Add(c.timeout)
	if err := c.conn.WriteLine(line, deadline); err != nil {
		c.drop()
		return "", fmt.Errorf("send %q: %w", line, err)
	}
	resp, err := c.conn.ReadLine(deadline)
	if err != nil {
		c.drop()
		return "", err
	}
	return resp, nil
}

// drop closes a connection whose request/response pairing is lost. The
// caller holds c.mu.
func (c *Client) drop() {
	c.connected = false
	c.conn.Close()
}

// expect sends the command and checks the response against want; an
// empty want accepts anything that is not an error.
func (c *Client) expect(want string, keyword string, args ...string) error {
	line := protocol.Format(keyword, args...)
	resp, err := c.Send(line)
	if err != nil {
		return err
	}
	if protocol.IsError(resp) || (want != "" && resp != want) {
		return &ResponseError{Command: line, Response: resp}
	}
	return nil
}

func floats(vals ...float64) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = protocol.FormatFloat(v)
	}
	return out
}

// ConfigAxis sets the calibration of an axis from the driver's pulses per
// revolution and the lead screw lead in mm.
func (c *Client) ConfigAxis(axis string, pulsesPerRev, leadMM float64) error {
	axis = strings.ToLower(axis)
	args := append([]string{axis}, floats(pulsesPerRev, leadMM)...)
	return c.expect(protocol.AxisConfigured(axis), protocol.CmdConfigAxis, args...)
}

// ConfigZPeel sets the peel lift and return distances and speeds
func (c *Client) ConfigZPeel(lift, ret, speedDown, speedUp float64) error {
	return c.expect(protocol.RespZPeelConfigured, protocol.CmdConfigZPeel, floats(lift, ret, speedDown, speedUp)...)
}

// ConfigAWipe sets the wipe distance and the fast and slow wipe speeds
func (c *Client) ConfigAWipe(dist, fast, slow float64) error {
	return c.expect(protocol.RespAWipeConfigured, protocol.CmdConfigAWipe, floats(dist, fast, slow)...)
}

// ConfigBLevel sets the level trim speeds
func (c *Client) ConfigBLevel(speedDown, speedUp float64) error {
	return c.expect(protocol.RespBLevelConfigured, protocol.CmdConfigBLevel, floats(speedDown, speedUp)...)
}

// Config is the single-axis peel configuration older firmware accepts
func (c *Client) Config(lift, ret float64) error {
	return c.expect(protocol.RespConfigReceived, protocol.CmdConfig, floats(lift, ret)...)
}

// NextLayer runs the peel and wipe sequence between two layers
func (c *Client) NextLayer() error {
	return c.expect(protocol.RespDone, protocol.CmdNextLayer)
}

// MoveRel moves one axis by dist mm
func (c *Client) MoveRel(axis string, dist, speed, accel float64) error {
	args := append([]string{strings.ToLower(axis)}, floats(dist, speed, accel)...)
	return c.expect(protocol.RespDone, protocol.CmdMoveRel, args...)
}

// Jog moves the lift axis by dist mm at the controller's jog speed
func (c *Client) Jog(dist float64) error {
	return c.expect(protocol.RespDone, protocol.CmdMoveRel, protocol.FormatFloat(dist))
}

// EnableLevelComp switches the resin-level compensation loop
func (c *Client) EnableLevelComp(on bool) error {
	flag, want := "0", protocol.RespLevelCompOff
	if on {
		flag, want = "1", protocol.RespLevelCompOn
	}
	return c.expect(want, protocol.CmdEnableLevelComp, flag)
}

// ParkDistance returns the return move after printing layers with the
// given peel lift and return: each layer advanced the plate by
// lift-return.
func ParkDistance(layers int, lift, ret float64) float64 {
	if layers <= 1 {
		return 0
	}
	return -float64(layers-1) * (lift - ret)
}

// Park returns the build plate after a print of layers layers and lifts it
// clear of the vat.
func (c *Client) Park(layers int, lift, ret float64) error {
	if layers <= 1 {
		return nil
	}
	if d := ParkDistance(layers, lift, ret); d < 0 {
		if err := c.Jog(d); err != nil {
			return fmt.Errorf("park return: %w", err)
		}
	}
	if err := c.Jog(ParkClearanceMM); err != nil {
		return fmt.Errorf("park clearance: %w", err)
	}
	return nil
}
