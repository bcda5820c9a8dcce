// Package link is the host side of the motion link. A Client sends
// commands over a serial port and tracks the reports the firmware sends back.
package link

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Masterminds/semver"

	"motionfw/host/serial"
	"motionfw/protocol"
	"motionfw/standalone"
)

// VersionConstraint is the range of firmware versions this host can drive
const VersionConstraint = "~0.3.0"

var (
	ErrIncompatible = errors.New("incompatible firmware version")
	ErrNoHello      = errors.New("no hello received")
)

// CommandError is a command the firmware rejected with RptError
type CommandError struct {
	Cmd  uint16
	Code uint32
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s rejected: %s", CommandName(e.Cmd), protocol.ErrorCodeString(e.Code))
}

// Status is the last reported firmware state
type Status struct {
	Version  string
	Steps    [protocol.NumLinkAxes]int32
	Queued   uint32
	Capacity uint32
}

// Event is an unsolicited fault or homed report
type Event struct {
	Kind     uint16 // protocol.RptFault or protocol.RptHomed
	Code     uint32 // fault reason or endstop channel
	Position [protocol.NumLinkAxes]int32
}

// Client drives one controller
type Client struct {
	transport *protocol.HostTransport
	log       *slog.Logger
	timeout   time.Duration

	cmdMu sync.Mutex // one command in flight

	mu      sync.Mutex
	status  Status
	pending uint16
	lastErr *CommandError

	events chan Event
}

// Dial opens the serial port described by cfg
func Dial(cfg *serial.Config, log *slog.Logger) (*Client, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(port, log), nil
}

// NewClient starts a client on an open port. The client owns the port.
func NewClient(port io.ReadWriteCloser, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		log:     log,
		timeout: 2 * time.Second,
		events:  make(chan Event, 16),
	}
	c.transport = protocol.NewHostTransport(port)
	c.transport.SetResponseHandler(c.handleReport)
	return c
}

// Close stops the read loop and closes the port
func (c *Client) Close() error {
	return c.transport.Close()
}

// Events delivers fault and homed reports. Reports are dropped when the
// channel is not drained.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Hello identifies the firmware and checks its version
func (c *Client) Hello() (string, error) {
	c.mu.Lock()
	c.status.Version = ""
	c.mu.Unlock()

	if err := c.send(protocol.CmdIdentify, nil); err != nil {
		return "", err
	}

	version := c.Status().Version
	if version == "" {
		return "", ErrNoHello
	}
	if err := CheckVersion(version); err != nil {
		return version, err
	}
	c.log.Info("connected", "version", version)
	return version, nil
}

// CheckVersion reports whether a hello version is usable by this host
func CheckVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrIncompatible, version, err)
	}
	constraint, err := semver.NewConstraint(VersionConstraint)
	if err != nil {
		return err
	}
	if !constraint.Check(v) {
		return fmt.Errorf("%w: got %s, require %s", ErrIncompatible, version, VersionConstraint)
	}
	return nil
}

// Move queues a linear move to target (mm) at feed (mm/s)
func (c *Client) Move(target standalone.Position, feed float64) error {
	args := protocol.MoveArgs{
		Target: microns(target),
		Feed:   uint32(math.Round(feed * 1000)),
	}
	return c.send(protocol.CmdMove, func(output protocol.OutputBuffer) {
		protocol.EncodeMove(output, args)
	})
}

// Home starts homing against endstop channel ch
func (c *Client) Home(ch uint32) error {
	return c.send(protocol.CmdHome, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, ch)
	})
}

// EmergencyStop aborts all motion; the firmware answers with a fault report
func (c *Client) EmergencyStop() error {
	return c.send(protocol.CmdEStop, nil)
}

// Clear leaves the halted state
func (c *Client) Clear() error {
	return c.send(protocol.CmdClear, nil)
}

// SetPosition declares the current position (mm)
func (c *Client) SetPosition(pos standalone.Position) error {
	target := microns(pos)
	return c.send(protocol.CmdSetPos, func(output protocol.OutputBuffer) {
		protocol.EncodeAxes(output, target)
	})
}

// Query refreshes position and queue depth
func (c *Client) Query() (Status, error) {
	if err := c.send(protocol.CmdQuery, nil); err != nil {
		return Status{}, err
	}
	return c.Status(), nil
}

// Status returns the last reported state without talking to the firmware
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// WaitIdle queries until the firmware queue is empty
func (c *Client) WaitIdle(timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st, err := c.Query()
		if err != nil {
			return err
		}
		if st.Queued == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("still %d blocks queued after %v", st.Queued, timeout)
		}
		time.Sleep(interval)
	}
}

// send transmits one command and waits for its ACK. The firmware writes
// any reply ahead of the ACK, so replies are already recorded on return.
func (c *Client) send(cmd uint16, args func(protocol.OutputBuffer)) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	c.pending = cmd
	c.lastErr = nil
	c.mu.Unlock()

	if err := c.transport.SendCommandWithTimeout(cmd, args, c.timeout); err != nil {
		return fmt.Errorf("%s: %w", CommandName(cmd), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = 0
	if c.lastErr != nil {
		return c.lastErr
	}
	return nil
}

// handleReport runs on the transport read loop
func (c *Client) handleReport(id uint16, data *[]byte) error {
	switch id {
	case protocol.RptHello:
		version, err := protocol.DecodeVLQString(data)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.status.Version = version
		c.mu.Unlock()

	case protocol.RptPosition:
		steps, err := protocol.DecodeAxes(data)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.status.Steps = steps
		c.mu.Unlock()

	case protocol.RptQueue:
		queued, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		capacity, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.status.Queued, c.status.Capacity = queued, capacity
		c.mu.Unlock()

	case protocol.RptFault, protocol.RptHomed:
		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.status.Steps = ev.Position
		c.mu.Unlock()
		if id == protocol.RptFault {
			c.log.Warn("fault", "reason", ev.Code, "steps", ev.Position)
		} else {
			c.log.Info("homed", "channel", ev.Code, "steps", ev.Position)
		}
		select {
		case c.events <- Event{Kind: id, Code: ev.Code, Position: ev.Position}:
		default:
			c.log.Warn("event dropped", "report", id)
		}

	case protocol.RptError:
		cmd, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		code, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		cerr := &CommandError{Cmd: uint16(cmd), Code: code}
		c.mu.Lock()
		if c.pending == cerr.Cmd {
			c.lastErr = cerr
		}
		c.mu.Unlock()
		c.log.Debug("command error", "cmd", CommandName(cerr.Cmd), "code", code)

	default:
		c.log.Debug("unknown report", "id", id)
	}
	return nil
}

// CommandName names a command id for logs and errors
func CommandName(cmd uint16) string {
	switch cmd {
	case protocol.CmdIdentify:
		return "identify"
	case protocol.CmdMove:
		return "move"
	case protocol.CmdHome:
		return "home"
	case protocol.CmdEStop:
		return "estop"
	case protocol.CmdClear:
		return "clear"
	case protocol.CmdQuery:
		return "query"
	case protocol.CmdSetPos:
		return "set_position"
	default:
		return fmt.Sprintf("cmd%d", cmd)
	}
}

func microns(p standalone.Position) [protocol.NumLinkAxes]int32 {
	var v [protocol.NumLinkAxes]int32
	for i := range v {
		v[i] = int32(math.Round(p.Axis(i) * 1000))
	}
	return v
}
