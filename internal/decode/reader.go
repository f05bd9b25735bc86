package decode

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Bounds-checked primitives for framed decoding.
//
// Readers are stateless; offsets are explicit. Every read that would
// cross the frame boundary fails with ErrFrameTruncated.

// ReadU8 reads a single byte at the given offset.
func ReadU8(frame []byte, off int) (byte, error) {
	if off < 0 || off+1 > len(frame) {
		return 0, fmt.Errorf("%w: u8 at offset %d (frame %d bytes)", ErrFrameTruncated, off, len(frame))
	}
	return frame[off], nil
}

// ReadU16BE reads a big-endian uint16 at the given offset.
func ReadU16BE(frame []byte, off int) (uint16, error) {
	if off < 0 || off+2 > len(frame) {
		return 0, fmt.Errorf("%w: u16 at offset %d (frame %d bytes)", ErrFrameTruncated, off, len(frame))
	}
	return binary.BigEndian.Uint16(frame[off : off+2]), nil
}

// ReadU32BE reads a big-endian uint32 at the given offset.
func ReadU32BE(frame []byte, off int) (uint32, error) {
	if off < 0 || off+4 > len(frame) {
		return 0, fmt.Errorf("%w: u32 at offset %d (frame %d bytes)", ErrFrameTruncated, off, len(frame))
	}
	return binary.BigEndian.Uint32(frame[off : off+4]), nil
}

// ReadBytes reads n bytes starting at the given offset.
// The returned slice is a copy; callers may retain it.
func ReadBytes(frame []byte, off, n int) ([]byte, error) {
	if n < 0 || off < 0 || off+n > len(frame) {
		return nil, fmt.Errorf("%w: %d bytes at offset %d (frame %d bytes)", ErrFrameTruncated, n, off, len(frame))
	}
	out := make([]byte, n)
	copy(out, frame[off:off+n])
	return out, nil
}

// ReadDecimalFixed2 reads two bytes a.b and returns a + b/100.
//
// Family-B encodes temperature and humidity as an integer byte followed
// by a two-digit fraction byte (e.g. 0x1B 0x29 = 27.41).
func ReadDecimalFixed2(frame []byte, off int) (float64, error) {
	if off < 0 || off+2 > len(frame) {
		return 0, fmt.Errorf("%w: fixed2 at offset %d (frame %d bytes)", ErrFrameTruncated, off, len(frame))
	}
	return float64(frame[off]) + float64(frame[off+1])/100, nil
}

// ReadIPv4 reads four bytes and renders them in dotted-quad notation.
func ReadIPv4(frame []byte, off int) (string, error) {
	b, err := ReadBytes(frame, off, 4)
	if err != nil {
		return "", err
	}
	return net.IP(b).String(), nil
}

// ReadMAC reads six bytes and renders them as a colon-separated MAC address.
func ReadMAC(frame []byte, off int) (string, error) {
	b, err := ReadBytes(frame, off, 6)
	if err != nil {
		return "", err
	}
	return net.HardwareAddr(b).String(), nil
}
