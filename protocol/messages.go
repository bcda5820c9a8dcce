package protocol

import "errors"

// Command IDs sent host to firmware
const (
	CmdIdentify uint16 = 1 // no args; firmware answers with hello
	CmdMove     uint16 = 2 // x, y, z, e (µm), feed (µm/s)
	CmdHome     uint16 = 3 // channel
	CmdEStop    uint16 = 4
	CmdClear    uint16 = 5
	CmdQuery    uint16 = 6 // no args; firmware answers with position and queue
	CmdSetPos   uint16 = 7 // x, y, z, e (µm)
)

// Report IDs sent firmware to host
const (
	RptHello    uint16 = 64 // version string
	RptPosition uint16 = 65 // steps per axis
	RptFault    uint16 = 66 // reason, steps per axis
	RptHomed    uint16 = 67 // channel, steps per axis
	RptQueue    uint16 = 68 // queued blocks, capacity
	RptError    uint16 = 69 // command id, error code
)

// NumLinkAxes is the number of axis values carried by moves and positions
const NumLinkAxes = 4

var ErrShortMessage = errors.New("message truncated")

// MoveArgs is the payload of CmdMove
type MoveArgs struct {
	Target [NumLinkAxes]int32 // micrometres
	Feed   uint32             // micrometres per second
}

// EncodeAxes writes NumLinkAxes signed values
func EncodeAxes(output OutputBuffer, v [NumLinkAxes]int32) {
	for _, x := range v {
		EncodeVLQInt(output, x)
	}
}

// DecodeAxes reads NumLinkAxes signed values
func DecodeAxes(data *[]byte) ([NumLinkAxes]int32, error) {
	var v [NumLinkAxes]int32
	for i := range v {
		x, err := DecodeVLQInt(data)
		if err != nil {
			return v, ErrShortMessage
		}
		v[i] = x
	}
	return v, nil
}

// EncodeMove writes CmdMove arguments
func EncodeMove(output OutputBuffer, m MoveArgs) {
	EncodeAxes(output, m.Target)
	EncodeVLQUint(output, m.Feed)
}

// DecodeMove reads CmdMove arguments
func DecodeMove(data *[]byte) (MoveArgs, error) {
	var m MoveArgs
	var err error
	if m.Target, err = DecodeAxes(data); err != nil {
		return m, err
	}
	if m.Feed, err = DecodeVLQUint(data); err != nil {
		return m, ErrShortMessage
	}
	return m, nil
}

// EventArgs is the payload of RptFault and RptHomed
type EventArgs struct {
	Code     uint32 // fault reason or endstop channel
	Position [NumLinkAxes]int32
}

// EncodeEvent writes a fault or homed report body
func EncodeEvent(output OutputBuffer, e EventArgs) {
	EncodeVLQUint(output, e.Code)
	EncodeAxes(output, e.Position)
}

// DecodeEvent reads a fault or homed report body
func DecodeEvent(data *[]byte) (EventArgs, error) {
	var e EventArgs
	var err error
	if e.Code, err = DecodeVLQUint(data); err != nil {
		return e, ErrShortMessage
	}
	if e.Position, err = DecodeAxes(data); err != nil {
		return e, err
	}
	return e, nil
}

// Error codes carried by RptError
const (
	ErrCodeQueueFull  uint32 = 1
	ErrCodeOutOfReach uint32 = 2
	ErrCodeHalted     uint32 = 3
	ErrCodeBusy       uint32 = 4
	ErrCodeBadArgs    uint32 = 5
	ErrCodeUnknown    uint32 = 6 // unknown command id
	ErrCodeFailed     uint32 = 7
)

// ErrorCodeString names an RptError code
func ErrorCodeString(code uint32) string {
	switch code {
	case ErrCodeQueueFull:
		return "queue full"
	case ErrCodeOutOfReach:
		return "out of reach"
	case ErrCodeHalted:
		return "halted"
	case ErrCodeBusy:
		return "busy"
	case ErrCodeBadArgs:
		return "bad arguments"
	case ErrCodeUnknown:
		return "unknown command"
	default:
		return "failed"
	}
}
