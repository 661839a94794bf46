package gps

import (
	"encoding/hex"
	"fmt"
	"strings"
)

type nmeaSentence struct {
	Talker string
	Type   string
	// Fields is the comma-split NMEA payload (excluding $ and checksum).
	Fields []string
}

func parseNMEASentence(line string) (nmeaSentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nmeaSentence{}, fmt.Errorf("nmea: missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return nmeaSentence{}, fmt.Errorf("nmea: missing checksum")
	}
	payload := line[1:star]
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return nmeaSentence{}, fmt.Errorf("nmea: short checksum")
	}
	want, err := hex.DecodeString(ck[:2])
	if err != nil || len(want) != 1 {
		return nmeaSentence{}, fmt.Errorf("nmea: bad checksum")
	}
	if got := nmeaChecksum(payload); got != want[0] {
		return nmeaSentence{}, fmt.Errorf("nmea: checksum mismatch got=%02X want=%02X", got, want[0])
	}

	parts := strings.Split(payload, ",")
	head := parts[0]
	if len(head) < 3 {
		return nmeaSentence{}, fmt.Errorf("nmea: short type")
	}
	// Proprietary sentences are P + manufacturer/command, e.g. PMTK001.
	if head[0] == 'P' {
		return nmeaSentence{Talker: "P", Type: strings.ToUpper(head[1:]), Fields: parts}, nil
	}
	// Accept GNxxx/GPxxx, etc; the type is the last 3 chars.
	return nmeaSentence{
		Talker: strings.ToUpper(head[:len(head)-3]),
		Type:   strings.ToUpper(head[len(head)-3:]),
		Fields: parts,
	}, nil
}

func nmeaChecksum(payload string) byte {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return ck
}

// Sentence frames payload (without '$' and checksum) as a complete line
// terminated by CRLF.
func Sentence(payload string) string {
	return fmt.Sprintf("$%s*%02X\r\n", payload, nmeaChecksum(payload))
}
