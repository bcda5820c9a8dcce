package protocol

import "testing"

func TestCRC16(t *testing.T) {
	testCases := []struct {
		data     []byte
		expected uint16
	}{
		{data: []byte{}, expected: 0xFFFF},
		{data: []byte("123456789"), expected: 0x6F91}, // MCRF4XX check value
	}

	for i, tc := range testCases {
		result := CRC16(tc.data)
		if result != tc.expected {
			t.Errorf("Test case %d: CRC16(%q) = 0x%04X, expected 0x%04X", i, tc.data, result, tc.expected)
		}
	}
}

func TestCRC16Consistency(t *testing.T) {
	data := []byte{0x05, 0x10}
	if CRC16(data) != CRC16(data) {
		t.Error("CRC16 should be deterministic")
	}

	// A single flipped bit must change the checksum
	flipped := []byte{0x05, 0x11}
	if CRC16(data) == CRC16(flipped) {
		t.Error("CRC16 did not detect single bit change")
	}
}
