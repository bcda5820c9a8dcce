package protocol

// FrameStatus is the outcome of scanning the head of a receive buffer
type FrameStatus uint8

const (
	FrameOK         FrameStatus = iota // A complete valid frame was found
	FrameIncomplete                    // More bytes are needed
	FrameBad                           // Framing or CRC error; caller must resync
)

// ScanFrame inspects data, which must not start with a sync byte, for one
// complete frame. On FrameOK it returns the frame and its total length.
func ScanFrame(data []byte) (MessageBlock, int, FrameStatus) {
	if len(data) < MessageLengthMin {
		if len(data) > 0 {
			if n := int(data[MessagePositionLen]); n < MessageLengthMin || n > MessageLengthMax {
				return MessageBlock{}, 0, FrameBad
			}
		}
		return MessageBlock{}, 0, FrameIncomplete
	}

	msgLen := int(data[MessagePositionLen])
	if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
		return MessageBlock{}, 0, FrameBad
	}

	seq := data[MessagePositionSeq]
	if seq&^MessageSeqMask != MessageDest {
		return MessageBlock{}, 0, FrameBad
	}

	if len(data) < msgLen {
		return MessageBlock{}, 0, FrameIncomplete
	}

	if data[msgLen-MessageTrailerSync] != MessageValueSync {
		return MessageBlock{}, 0, FrameBad
	}

	frameCRC := uint16(data[msgLen-MessageTrailerCRC])<<8 |
		uint16(data[msgLen-MessageTrailerCRC+1])
	if frameCRC != CRC16(data[:msgLen-MessageTrailerSize]) {
		return MessageBlock{}, 0, FrameBad
	}

	return MessageBlock{
		Length:   uint8(msgLen),
		Sequence: seq,
		Data:     data[MessageHeaderSize : msgLen-MessageTrailerSize],
		CRC:      frameCRC,
	}, msgLen, FrameOK
}

// ResyncOffset returns the index just past the next sync byte in data. When
// there is none it returns len(data) and false.
func ResyncOffset(data []byte) (int, bool) {
	for i, b := range data {
		if b == MessageValueSync {
			return i + 1, true
		}
	}
	return len(data), false
}

// WriteFrame encodes a frame with sequence seq around the payload produced by
// body. It returns false when the payload does not fit in one frame, in which
// case nothing written after the cursor should be used.
func WriteFrame(output OutputBuffer, seq uint8, body func(output OutputBuffer)) bool {
	cursor := output.CurPosition()
	output.Output([]byte{0, seq})
	if body != nil {
		body(output)
	}

	changed := len(output.DataSince(cursor))
	msgLen := changed + MessageTrailerSize
	if msgLen > MessageLengthMax {
		return false
	}
	output.Update(cursor, uint8(msgLen))

	crc := CRC16(output.DataSince(cursor))
	output.Output([]byte{
		uint8((crc & 0xFF00) >> 8),
		uint8(crc & 0xFF),
		MessageValueSync,
	})
	return true
}
