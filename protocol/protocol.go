// Package protocol implements the framed VLQ link between the motion
// firmware and a host
package protocol

// Version represents the motion firmware version reported in hello
const Version = "0.3.0"

// Protocol constants
const (
	MessageMax = 512 // Maximum scratch output size

	// Message sequence masks
	MessageSeqMask = 0x0F
)

// MessageBlock represents a decoded frame
type MessageBlock struct {
	Length   uint8
	Sequence uint8
	Data     []byte
	CRC      uint16
}
