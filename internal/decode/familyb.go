package decode

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Family-B frame constants.
const (
	// Frame type marker bytes.
	markerRfid       = 0xBB
	markerDoor       = 0xBA
	markerHeartbeatA = 0xCB
	markerHeartbeatB = 0xCC
	markerInfo       = 0xEF
	markerCommandAck = 0xAA

	// Info sub-type bytes (second byte after 0xEF).
	infoSubDevice = 0x01
	infoSubModule = 0x02

	// Command bytes at offset 6 of 0xAA ack frames.
	cmdColorSet    = 0xE1
	cmdTamperClear = 0xE2
	cmdColorQuery  = 0xE4

	// cmdResultSuccess is the success marker in ack frames.
	cmdResultSuccess = 0xA1

	// msgCodeLen is the trailing message code length in bytes.
	msgCodeLen = 4

	// maxHeartbeatModules caps module entries in a heartbeat frame.
	maxHeartbeatModules = 10

	// maxTempHumSensors caps sensor entries in a TempHum frame.
	maxTempHumSensors = 6

	// maxNoiseSensors caps sensor entries in a Noise frame.
	maxNoiseSensors = 3

	// Valid module address range for heartbeat entries.
	minModuleAddr = 1
	maxModuleAddr = 5
)

// FamilyBDecoder parses compact binary/hex framed gateway payloads.
//
// Frame classification uses the topic's third segment first, then the
// first one or two bytes of the payload when the segment is ambiguous
// ("OpeAck"). Payloads arrive either as raw bytes or as ASCII hex text;
// both are accepted.
//
// Decoders are stateless and safe for concurrent use.
type FamilyBDecoder struct{}

// NewFamilyBDecoder creates a family-B decoder.
func NewFamilyBDecoder() *FamilyBDecoder {
	return &FamilyBDecoder{}
}

// Decode implements Decoder.
func (d *FamilyBDecoder) Decode(frame RawFrame) ([]Record, error) {
	deviceID := DeviceIDFromTopic(frame.Topic)
	if deviceID == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTopic, frame.Topic)
	}

	data, err := normalizeHex(frame.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrFrameTruncated)
	}

	kind, err := classifyFamilyB(CategoryFromTopic(frame.Topic), data)
	if err != nil {
		return nil, err
	}

	rec := Record{
		DeviceID:    deviceID,
		DeviceKind:  DeviceKindB,
		MessageKind: kind,
		Timestamp:   frame.ReceivedAt,
	}

	switch kind {
	case KindHeartbeat:
		err = parseHeartbeat(data, &rec)
	case KindRfid:
		err = parseRfid(data, &rec)
	case KindTempHum:
		err = parseTempHum(data, &rec)
	case KindNoise:
		err = parseNoise(data, &rec)
	case KindDoor:
		err = parseDoor(data, &rec)
	case KindDeviceInfo:
		err = parseDeviceInfo(data, &rec)
	case KindModuleInfo:
		err = parseModuleInfo(data, &rec)
	case KindColorSetAck, KindTamperClearAck, KindColorQueryAck:
		err = parseCommandAck(data, &rec)
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnknownMessageKind, kind)
	}
	if err != nil {
		return nil, err
	}

	return []Record{rec}, nil
}

// classifyFamilyB determines the message kind from the topic category
// and, when the category is ambiguous, the leading payload bytes.
func classifyFamilyB(category string, data []byte) (MessageKind, error) {
	switch category {
	case "TemHum":
		return KindTempHum, nil
	case "Noise":
		return KindNoise, nil
	case "LabelState":
		if data[0] == markerRfid {
			return KindRfid, nil
		}
		return "", fmt.Errorf("%w: LabelState frame starts with 0x%02X", ErrUnknownMessageKind, data[0])
	case "OpeAck":
		switch data[0] {
		case markerHeartbeatA, markerHeartbeatB:
			return KindHeartbeat, nil
		case markerDoor:
			return KindDoor, nil
		case markerInfo:
			sub, err := ReadU8(data, 1)
			if err != nil {
				return "", err
			}
			switch sub {
			case infoSubDevice:
				return KindDeviceInfo, nil
			case infoSubModule:
				return KindModuleInfo, nil
			}
			return "", fmt.Errorf("%w: info sub-type 0x%02X", ErrUnknownMessageKind, sub)
		case markerCommandAck:
			cmd, err := ReadU8(data, 6)
			if err != nil {
				return "", err
			}
			switch cmd {
			case cmdColorSet:
				return KindColorSetAck, nil
			case cmdTamperClear:
				return KindTamperClearAck, nil
			case cmdColorQuery:
				return KindColorQueryAck, nil
			}
			return "", fmt.Errorf("%w: ack command 0x%02X", ErrUnknownMessageKind, cmd)
		}
		return "", fmt.Errorf("%w: OpeAck frame starts with 0x%02X", ErrUnknownMessageKind, data[0])
	}
	return "", fmt.Errorf("%w: topic category %q", ErrUnknownMessageKind, category)
}

// parseHeartbeat parses: header(1) + up to 10x {modAdd(1), modId(4), uCount(1)} + msgCode(4).
// Modules with 1 <= modAdd <= 5 and non-zero modId are accepted.
func parseHeartbeat(data []byte, rec *Record) error {
	if len(data) < 1+msgCodeLen {
		return fmt.Errorf("%w: heartbeat frame %d bytes", ErrFrameTruncated, len(data))
	}

	off := 1
	var modules []map[string]any
	for len(modules) < maxHeartbeatModules && off+6 <= len(data)-msgCodeLen {
		modAdd, err := ReadU8(data, off)
		if err != nil {
			return err
		}
		modID, err := ReadU32BE(data, off+1)
		if err != nil {
			return err
		}
		uCount, err := ReadU8(data, off+5)
		if err != nil {
			return err
		}
		off += 6

		if modAdd < minModuleAddr || modAdd > maxModuleAddr || modID == 0 {
			continue
		}
		modules = append(modules, map[string]any{
			"module_number": int(modAdd),
			"module_id":     strconv.FormatUint(uint64(modID), 10),
			"u_count":       int(uCount),
		})
	}

	rec.SubRecords = modules
	rec.RawFields = map[string]any{
		"module_count": len(modules),
	}
	return readMsgCode(data, rec)
}

// parseRfid parses: 0xBB + modAdd(1) + modId(4) + reserved(1) + uCount(1) +
// rfidCount(1) + rfidCount x {uPos(1), alarm(1), uRfid(4 hex)} + msgCode(4).
func parseRfid(data []byte, rec *Record) error {
	modAdd, err := ReadU8(data, 1)
	if err != nil {
		return err
	}
	modID, err := ReadU32BE(data, 2)
	if err != nil {
		return err
	}
	uCount, err := ReadU8(data, 7)
	if err != nil {
		return err
	}
	rfidCount, err := ReadU8(data, 8)
	if err != nil {
		return err
	}

	off := 9
	tags := make([]map[string]any, 0, rfidCount)
	for i := 0; i < int(rfidCount); i++ {
		// The trailing msgCode is not tag data; an overstated count
		// must not eat into it.
		if off+6 > len(data)-msgCodeLen {
			return fmt.Errorf("%w: rfid frame advertises %d tags, holds %d",
				ErrFrameTruncated, rfidCount, i)
		}
		pos, err := ReadU8(data, off)
		if err != nil {
			return err
		}
		alarm, err := ReadU8(data, off+1)
		if err != nil {
			return err
		}
		tag, err := ReadBytes(data, off+2, 4)
		if err != nil {
			return err
		}
		off += 6

		tags = append(tags, map[string]any{
			"position": int(pos),
			"rfid":     strings.ToUpper(hex.EncodeToString(tag)),
			"alarm":    int(alarm),
			"state":    "attached",
		})
	}

	rec.ModuleNumber = intPtr(int(modAdd))
	rec.ModuleID = strconv.FormatUint(uint64(modID), 10)
	rec.SubRecords = tags
	rec.RawFields = map[string]any{
		"u_count":    int(uCount),
		"rfid_count": int(rfidCount),
	}
	return readMsgCode(data, rec)
}

// parseTempHum parses: modAdd(1) + modId(4) + up to 6x {addr(1),
// tempInt.tempFrac(2), humInt.humFrac(2)} + msgCode(4).
func parseTempHum(data []byte, rec *Record) error {
	modAdd, err := ReadU8(data, 0)
	if err != nil {
		return err
	}
	modID, err := ReadU32BE(data, 1)
	if err != nil {
		return err
	}

	off := 5
	var readings []map[string]any
	for len(readings) < maxTempHumSensors && off+5 <= len(data)-msgCodeLen {
		addr, err := ReadU8(data, off)
		if err != nil {
			return err
		}
		temp, err := ReadDecimalFixed2(data, off+1)
		if err != nil {
			return err
		}
		hum, err := ReadDecimalFixed2(data, off+3)
		if err != nil {
			return err
		}
		off += 5

		readings = append(readings, map[string]any{
			"position":    int(addr),
			"temperature": temp,
			"humidity":    hum,
		})
	}

	rec.ModuleNumber = intPtr(int(modAdd))
	rec.ModuleID = strconv.FormatUint(uint64(modID), 10)
	rec.SubRecords = readings
	rec.RawFields = map[string]any{
		"sensor_count": len(readings),
	}
	return readMsgCode(data, rec)
}

// parseNoise parses: modAdd(1) + modId(4) + up to 3x {addr(1), level(4 BE)} + msgCode(4).
func parseNoise(data []byte, rec *Record) error {
	modAdd, err := ReadU8(data, 0)
	if err != nil {
		return err
	}
	modID, err := ReadU32BE(data, 1)
	if err != nil {
		return err
	}

	off := 5
	var readings []map[string]any
	for len(readings) < maxNoiseSensors && off+5 <= len(data)-msgCodeLen {
		addr, err := ReadU8(data, off)
		if err != nil {
			return err
		}
		level, err := ReadU32BE(data, off+1)
		if err != nil {
			return err
		}
		off += 5

		readings = append(readings, map[string]any{
			"position": int(addr),
			"level":    float64(level),
		})
	}

	rec.ModuleNumber = intPtr(int(modAdd))
	rec.ModuleID = strconv.FormatUint(uint64(modID), 10)
	rec.SubRecords = readings
	rec.RawFields = map[string]any{
		"sensor_count": len(readings),
	}
	return readMsgCode(data, rec)
}

// parseDoor parses: 0xBA + modAdd(1) + modId(4) + status(1) + msgCode(4).
// Status is rendered as "0x<HH>"; the field mapper translates the known
// codes to "open"/"closed".
func parseDoor(data []byte, rec *Record) error {
	modAdd, err := ReadU8(data, 1)
	if err != nil {
		return err
	}
	modID, err := ReadU32BE(data, 2)
	if err != nil {
		return err
	}
	status, err := ReadU8(data, 6)
	if err != nil {
		return err
	}

	rec.ModuleNumber = intPtr(int(modAdd))
	rec.ModuleID = strconv.FormatUint(uint64(modID), 10)
	rec.RawFields = map[string]any{
		"status": fmt.Sprintf("0x%02X", status),
	}
	return readMsgCode(data, rec)
}

// parseDeviceInfo parses: 0xEF 0x01 + devType(2) + fw(4 BE) + ip(4) +
// mask(4) + gateway(4) + mac(6) + msgCode(4).
func parseDeviceInfo(data []byte, rec *Record) error {
	devType, err := ReadU16BE(data, 2)
	if err != nil {
		return err
	}
	fw, err := ReadU32BE(data, 4)
	if err != nil {
		return err
	}
	ip, err := ReadIPv4(data, 8)
	if err != nil {
		return err
	}
	mask, err := ReadIPv4(data, 12)
	if err != nil {
		return err
	}
	gateway, err := ReadIPv4(data, 16)
	if err != nil {
		return err
	}
	mac, err := ReadMAC(data, 20)
	if err != nil {
		return err
	}

	rec.RawFields = map[string]any{
		"device_type": int(devType),
		"firmware":    strconv.FormatUint(uint64(fw), 10),
		"ip":          ip,
		"mask":        mask,
		"gateway":     gateway,
		"mac":         mac,
	}
	return readMsgCode(data, rec)
}

// parseModuleInfo parses: 0xEF 0x02 + repeated {modAdd(1), fw(6 BE)} until
// fewer than 7 bytes remain before the trailing msgCode(4).
func parseModuleInfo(data []byte, rec *Record) error {
	off := 2
	var modules []map[string]any
	for off+7 <= len(data)-msgCodeLen {
		modAdd, err := ReadU8(data, off)
		if err != nil {
			return err
		}
		fwBytes, err := ReadBytes(data, off+1, 6)
		if err != nil {
			return err
		}
		off += 7

		var fw uint64
		for _, b := range fwBytes {
			fw = fw<<8 | uint64(b)
		}
		modules = append(modules, map[string]any{
			"module_number": int(modAdd),
			"firmware":      strconv.FormatUint(fw, 10),
		})
	}

	rec.SubRecords = modules
	rec.RawFields = map[string]any{
		"module_count": len(modules),
	}
	return readMsgCode(data, rec)
}

// parseCommandAck parses: 0xAA + devId(4) + cmdResult(1) + cmd(1) + modNum(1)
// + n x data(1) + msgId(4). For color query acks the data bytes are color
// codes translated through the fixed color table.
func parseCommandAck(data []byte, rec *Record) error {
	devID, err := ReadU32BE(data, 1)
	if err != nil {
		return err
	}
	cmdResult, err := ReadU8(data, 5)
	if err != nil {
		return err
	}
	modNum, err := ReadU8(data, 7)
	if err != nil {
		return err
	}

	result := "failure"
	if cmdResult == cmdResultSuccess {
		result = "success"
	}

	rec.ModuleNumber = intPtr(int(modNum))
	rec.RawFields = map[string]any{
		"ack_device_id": strconv.FormatUint(uint64(devID), 10),
		"result":        result,
	}

	if rec.MessageKind == KindColorQueryAck {
		var colors []map[string]any
		for off := 8; off < len(data)-msgCodeLen; off++ {
			code, err := ReadU8(data, off)
			if err != nil {
				return err
			}
			colors = append(colors, map[string]any{
				"position": off - 8 + 1,
				"code":     int(code),
				"color":    ColorName(int(code)),
			})
		}
		rec.SubRecords = colors
	}

	return readMsgCode(data, rec)
}

// readMsgCode extracts the trailing 4-byte message code as an upper-case
// hex string into rec.MsgID.
func readMsgCode(data []byte, rec *Record) error {
	code, err := ReadBytes(data, len(data)-msgCodeLen, msgCodeLen)
	if err != nil {
		return err
	}
	rec.MsgID = strings.ToUpper(hex.EncodeToString(code))
	return nil
}

// normalizeHex converts an ASCII-hex payload to raw bytes. Payloads that
// are not pure hex text are returned unchanged (already binary).
func normalizeHex(payload []byte) ([]byte, error) {
	trimmed := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, string(payload))

	if len(trimmed) == 0 || len(trimmed)%2 != 0 {
		return payload, nil
	}
	for _, r := range trimmed {
		if !isHexDigit(r) {
			return payload, nil
		}
	}

	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
