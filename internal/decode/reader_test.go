package decode

import (
	"errors"
	"testing"
)

func TestReadPrimitives(t *testing.T) {
	frame := []byte{0x01, 0x02, 0x03, 0x04, 0x1B, 0x29}

	u8, err := ReadU8(frame, 0)
	if err != nil || u8 != 0x01 {
		t.Errorf("ReadU8 = %#x, %v", u8, err)
	}

	u16, err := ReadU16BE(frame, 0)
	if err != nil || u16 != 0x0102 {
		t.Errorf("ReadU16BE = %#x, %v", u16, err)
	}

	u32, err := ReadU32BE(frame, 0)
	if err != nil || u32 != 0x01020304 {
		t.Errorf("ReadU32BE = %#x, %v", u32, err)
	}

	fixed, err := ReadDecimalFixed2(frame, 4)
	if err != nil || fixed != 27.41 {
		t.Errorf("ReadDecimalFixed2 = %v, %v", fixed, err)
	}
}

func TestReadTruncation(t *testing.T) {
	frame := []byte{0x01, 0x02}

	tests := []struct {
		name string
		fn   func() error
	}{
		{"u8 past end", func() error { _, err := ReadU8(frame, 2); return err }},
		{"u16 crossing boundary", func() error { _, err := ReadU16BE(frame, 1); return err }},
		{"u32 short frame", func() error { _, err := ReadU32BE(frame, 0); return err }},
		{"bytes past end", func() error { _, err := ReadBytes(frame, 1, 4); return err }},
		{"fixed2 crossing boundary", func() error { _, err := ReadDecimalFixed2(frame, 1); return err }},
		{"ipv4 short frame", func() error { _, err := ReadIPv4(frame, 0); return err }},
		{"mac short frame", func() error { _, err := ReadMAC(frame, 0); return err }},
		{"negative offset", func() error { _, err := ReadU8(frame, -1); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, ErrFrameTruncated) {
				t.Errorf("expected ErrFrameTruncated, got %v", err)
			}
		})
	}
}

func TestReadIPv4AndMAC(t *testing.T) {
	frame := []byte{192, 168, 1, 20, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}

	ip, err := ReadIPv4(frame, 0)
	if err != nil || ip != "192.168.1.20" {
		t.Errorf("ReadIPv4 = %q, %v", ip, err)
	}

	mac, err := ReadMAC(frame, 4)
	if err != nil || mac != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("ReadMAC = %q, %v", mac, err)
	}
}
