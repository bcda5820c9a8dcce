package protocol

import (
	"net"
	"testing"
	"time"
)

func buildFrame(t *testing.T, seq uint8, body func(OutputBuffer)) []byte {
	t.Helper()
	out := NewScratchOutput()
	if !WriteFrame(out, seq, body) {
		t.Fatal("WriteFrame rejected frame")
	}
	return append([]byte(nil), out.Result()...)
}

func TestScanFrameRoundTrip(t *testing.T) {
	frame := buildFrame(t, 0x13, func(o OutputBuffer) {
		EncodeVLQUint(o, uint32(CmdMove))
		EncodeMove(o, MoveArgs{Target: [NumLinkAxes]int32{10000, -2500, 0, 7}, Feed: 50000})
	})

	if frame[len(frame)-1] != MessageValueSync {
		t.Errorf("Frame must end in sync byte")
	}

	block, n, status := ScanFrame(frame)
	if status != FrameOK {
		t.Fatalf("Expected FrameOK, got %d", status)
	}
	if n != len(frame) || block.Sequence != 0x13 {
		t.Errorf("Unexpected frame length %d seq 0x%02x", n, block.Sequence)
	}

	data := block.Data
	id, _ := DecodeVLQUint(&data)
	if uint16(id) != CmdMove {
		t.Fatalf("Expected CmdMove, got %d", id)
	}
	m, err := DecodeMove(&data)
	if err != nil {
		t.Fatalf("DecodeMove failed: %v", err)
	}
	if m.Target[1] != -2500 || m.Feed != 50000 {
		t.Errorf("Decoded move mismatch: %+v", m)
	}
}

func TestScanFrameErrors(t *testing.T) {
	good := buildFrame(t, 0x10, func(o OutputBuffer) { EncodeVLQUint(o, 1) })

	if _, _, status := ScanFrame(good[:3]); status != FrameIncomplete {
		t.Errorf("Truncated frame should be incomplete, got %d", status)
	}

	corrupt := append([]byte(nil), good...)
	corrupt[2] ^= 0x40
	if _, _, status := ScanFrame(corrupt); status != FrameBad {
		t.Errorf("Corrupted payload should fail CRC, got %d", status)
	}

	badSeq := append([]byte(nil), good...)
	badSeq[MessagePositionSeq] = 0x20
	if _, _, status := ScanFrame(badSeq); status != FrameBad {
		t.Errorf("Wrong destination bits should be bad, got %d", status)
	}

	if _, _, status := ScanFrame([]byte{200}); status != FrameBad {
		t.Errorf("Oversized length byte should be bad, got %d", status)
	}
}

func TestWriteFrameTooLong(t *testing.T) {
	out := NewScratchOutput()
	ok := WriteFrame(out, MessageDest, func(o OutputBuffer) {
		o.Output(make([]byte, MessageLengthMax))
	})
	if ok {
		t.Error("Expected oversized frame to be rejected")
	}
}

func TestTransportAcksAndDispatches(t *testing.T) {
	out := NewScratchOutput()
	var got []uint16
	tr := NewTransport(out, func(cmdID uint16, data *[]byte) error {
		got = append(got, cmdID)
		if cmdID == CmdHome {
			if _, err := DecodeVLQUint(data); err != nil {
				return err
			}
		}
		return nil
	})

	var stream []byte
	stream = append(stream, buildFrame(t, 0x10, func(o OutputBuffer) { EncodeVLQUint(o, uint32(CmdEStop)) })...)
	stream = append(stream, 0x01, 0x02, MessageValueSync) // noise
	stream = append(stream, buildFrame(t, 0x11, func(o OutputBuffer) {
		EncodeVLQUint(o, uint32(CmdHome))
		EncodeVLQUint(o, 2)
	})...)

	in := NewSliceInputBuffer(stream)
	tr.Receive(in)

	if len(got) != 2 || got[0] != CmdEStop || got[1] != CmdHome {
		t.Fatalf("Unexpected dispatch order %v", got)
	}
	if in.Available() != 0 {
		t.Errorf("Expected all input consumed, %d left", in.Available())
	}
	if tr.BadFrames() != 1 {
		t.Errorf("Expected one rejected frame, got %d", tr.BadFrames())
	}

	// Last ACK should carry the next expected sequence
	acks := out.Result()
	block, _, status := ScanFrame(acks[len(acks)-MessageLengthMin:])
	if status != FrameOK || block.Sequence != 0x12 || len(block.Data) != 0 {
		t.Errorf("Expected empty ACK with seq 0x12, got status %d seq 0x%02x", status, block.Sequence)
	}
}

func TestHostTransportSendCommand(t *testing.T) {
	hostEnd, mcuEnd := net.Pipe()

	// Minimal firmware: acknowledge every command and emit one report
	go func() {
		out := NewScratchOutput()
		tr := NewTransport(out, func(cmdID uint16, data *[]byte) error { return nil })
		buf := make([]byte, 128)
		fifo := NewFifoBuffer(256)
		for {
			n, err := mcuEnd.Read(buf)
			if err != nil {
				return
			}
			fifo.Write(buf[:n])
			tr.Receive(fifo)
			tr.SendCommand(RptQueue, func(o OutputBuffer) {
				EncodeVLQUint(o, 3)
				EncodeVLQUint(o, 16)
			})
			if _, err := mcuEnd.Write(out.Result()); err != nil {
				return
			}
			out.Reset()
		}
	}()

	host := NewHostTransport(hostEnd)
	defer host.Close()

	if err := host.SendCommand(CmdQuery, nil); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if host.GetCurrentSequence() != 0x11 {
		t.Errorf("Expected sequence to advance to 0x11, got 0x%02x", host.GetCurrentSequence())
	}

	resp, err := host.ReceiveResponse(time.Second)
	if err != nil {
		t.Fatalf("ReceiveResponse failed: %v", err)
	}
	data := resp.Payload
	id, _ := DecodeVLQUint(&data)
	if uint16(id) != RptQueue {
		t.Errorf("Expected queue report, got %d", id)
	}
}
