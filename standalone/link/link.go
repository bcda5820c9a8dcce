// Package link serves the host protocol on the firmware side: it decodes
// commands into manager calls and reports faults, homing and position.
package link

import (
	"errors"
	"math"

	"motionfw/protocol"
	"motionfw/standalone"
	"motionfw/standalone/block"
	"motionfw/standalone/endstop"
	"motionfw/standalone/kinematics"
	"motionfw/standalone/manager"
	"motionfw/standalone/planner"
	"motionfw/standalone/stepgen"
)

// Handler connects a Manager to a protocol Transport
type Handler struct {
	mgr       *manager.Manager
	transport *protocol.Transport

	wasBusy bool
}

// NewHandler creates a handler writing frames to output. It installs the
// manager's OnFault and OnHomed callbacks.
func NewHandler(mgr *manager.Manager, output protocol.OutputBuffer) *Handler {
	h := &Handler{mgr: mgr}
	h.transport = protocol.NewTransport(output, h.handle)

	onFault, onHomed := mgr.OnFault, mgr.OnHomed
	mgr.OnFault = func(ev stepgen.Event) {
		h.sendEvent(protocol.RptFault, uint32(ev.Reason), ev.Position)
		if onFault != nil {
			onFault(ev)
		}
	}
	mgr.OnHomed = func(ch endstop.Channel, pos standalone.Position) {
		h.sendEvent(protocol.RptHomed, uint32(ch), h.mgr.State().Steps)
		if onHomed != nil {
			onHomed(ch, pos)
		}
	}
	return h
}

// Transport returns the underlying transport
func (h *Handler) Transport() *protocol.Transport {
	return h.transport
}

// Receive processes buffered input from the host
func (h *Handler) Receive(input protocol.InputBuffer) {
	h.transport.Receive(input)
}

// Poll services the manager and reports when the queue drains
func (h *Handler) Poll() {
	h.mgr.Poll()

	busy := !h.mgr.IsIdle()
	if h.wasBusy && !busy {
		h.sendQueue()
		h.sendPosition()
	}
	h.wasBusy = busy
}

// SendHello announces the firmware version
func (h *Handler) SendHello() {
	h.transport.SendCommand(protocol.RptHello, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQString(output, protocol.Version)
	})
}

func (h *Handler) handle(cmdID uint16, data *[]byte) error {
	var err error
	switch cmdID {
	case protocol.CmdIdentify:
		h.SendHello()

	case protocol.CmdMove:
		var args protocol.MoveArgs
		if args, err = protocol.DecodeMove(data); err == nil {
			err = h.mgr.BufferLine(fromMicrons(args.Target), float64(args.Feed)/1000)
			h.wasBusy = h.wasBusy || err == nil
		}

	case protocol.CmdHome:
		var ch uint32
		if ch, err = protocol.DecodeVLQUint(data); err == nil {
			if ch >= uint32(endstop.NumChannels) {
				err = endstop.ErrUnknownChannel
			} else {
				err = h.mgr.Home(endstop.Channel(ch))
				h.wasBusy = h.wasBusy || err == nil
			}
		}

	case protocol.CmdEStop:
		h.mgr.EmergencyStop()

	case protocol.CmdClear:
		h.mgr.ClearFault()

	case protocol.CmdQuery:
		h.sendPosition()
		h.sendQueue()

	case protocol.CmdSetPos:
		var target [protocol.NumLinkAxes]int32
		if target, err = protocol.DecodeAxes(data); err == nil {
			err = h.mgr.SetPosition(fromMicrons(target))
		}

	default:
		// Remaining arguments cannot be parsed without the command layout
		*data = nil
		h.sendError(cmdID, protocol.ErrCodeUnknown)
		return nil
	}

	if err != nil {
		h.sendError(cmdID, errorCode(err))
		if isDecodeError(err) {
			return err
		}
	}
	return nil
}

func (h *Handler) sendPosition() {
	steps := h.mgr.State().Steps
	h.transport.SendCommand(protocol.RptPosition, func(output protocol.OutputBuffer) {
		protocol.EncodeAxes(output, steps)
	})
}

func (h *Handler) sendQueue() {
	queued := h.mgr.Planner().QueuedBlocks()
	h.transport.SendCommand(protocol.RptQueue, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(queued))
		protocol.EncodeVLQUint(output, block.Capacity)
	})
}

func (h *Handler) sendEvent(id uint16, code uint32, steps standalone.Steps) {
	h.transport.SendCommand(id, func(output protocol.OutputBuffer) {
		protocol.EncodeEvent(output, protocol.EventArgs{Code: code, Position: steps})
	})
}

func (h *Handler) sendError(cmdID uint16, code uint32) {
	h.transport.SendCommand(protocol.RptError, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(cmdID))
		protocol.EncodeVLQUint(output, code)
	})
}

func errorCode(err error) uint32 {
	switch {
	case errors.Is(err, planner.ErrQueueFull):
		return protocol.ErrCodeQueueFull
	case errors.Is(err, kinematics.ErrOutOfReach):
		return protocol.ErrCodeOutOfReach
	case errors.Is(err, planner.ErrHalted):
		return protocol.ErrCodeHalted
	case errors.Is(err, manager.ErrBusy):
		return protocol.ErrCodeBusy
	case isDecodeError(err),
		errors.Is(err, planner.ErrInvalidFeedrate),
		errors.Is(err, endstop.ErrUnknownChannel),
		errors.Is(err, manager.ErrNoEndstop):
		return protocol.ErrCodeBadArgs
	default:
		return protocol.ErrCodeFailed
	}
}

// isDecodeError reports a malformed frame body; the rest of the frame is
// dropped
func isDecodeError(err error) bool {
	return errors.Is(err, protocol.ErrShortMessage) ||
		errors.Is(err, protocol.ErrInvalidVLQ) ||
		errors.Is(err, protocol.ErrBufferTooSmall)
}

func fromMicrons(v [protocol.NumLinkAxes]int32) standalone.Position {
	return standalone.Position{
		X: float64(v[0]) / 1000,
		Y: float64(v[1]) / 1000,
		Z: float64(v[2]) / 1000,
		E: float64(v[3]) / 1000,
	}
}

// ToMicrons converts a position to link units
func ToMicrons(p standalone.Position) [protocol.NumLinkAxes]int32 {
	var v [protocol.NumLinkAxes]int32
	for i := range v {
		v[i] = int32(math.Round(p.Axis(i) * 1000))
	}
	return v
}
