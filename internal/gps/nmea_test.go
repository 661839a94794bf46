package gps

import (
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/adrianmo/go-nmea"
)

const (
	rmcPayload = "GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"
	ggaPayload = "GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"
)

func nmeaLine(payload string) string {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X", payload, ck)
}

func TestParseNMEASentence_ChecksumOK(t *testing.T) {
	s, err := parseNMEASentence(nmeaLine(rmcPayload))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s.Type != "RMC" || s.Talker != "GP" {
		t.Fatalf("talker=%q type=%q want GP/RMC", s.Talker, s.Type)
	}
	if len(s.Fields) != 12 {
		t.Fatalf("fields=%d want 12", len(s.Fields))
	}
}

func TestParseNMEASentence_ChecksumMismatch(t *testing.T) {
	good := nmeaLine(rmcPayload)
	bad := good[:len(good)-2] + "00"
	if _, err := parseNMEASentence(bad); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseNMEASentence_Rejects(t *testing.T) {
	cases := []struct {
		name string
		line string
	}{
		{name: "no_dollar", line: "GPRMC,1*00"},
		{name: "no_star", line: "$GPRMC,1"},
		{name: "short_checksum", line: "$GPRMC,1*0"},
		{name: "hex", line: "$GPRMC,1*ZZ"},
		{name: "short_type", line: nmeaLine("GP")},
	}
	for _, tc := range cases {
		if _, err := parseNMEASentence(tc.line); err == nil {
			t.Fatalf("%s: expected error for %q", tc.name, tc.line)
		}
	}
}

func TestParseNMEASentence_Proprietary(t *testing.T) {
	s, err := parseNMEASentence(nmeaLine("PMTK001,251,3"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s.Talker != "P" || s.Type != "MTK001" {
		t.Fatalf("talker=%q type=%q want P/MTK001", s.Talker, s.Type)
	}
}

func TestSentence_FramesWithChecksum(t *testing.T) {
	got := Sentence("PMTK251,38400")
	want := nmeaLine("PMTK251,38400") + "\r\n"
	if got != want {
		t.Fatalf("Sentence=%q want %q", got, want)
	}
	if _, err := parseNMEASentence(strings.TrimSpace(got)); err != nil {
		t.Fatalf("framed sentence does not parse: %v", err)
	}
}

func TestFix_RMCUpdatesPositionAndMotion(t *testing.T) {
	pkt, err := decodePacket(nmeaLine(rmcPayload))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := pkt.Sentence.(nmea.RMC); !ok {
		t.Fatalf("sentence=%T want nmea.RMC", pkt.Sentence)
	}

	var f Fix
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	if !f.Apply(now, []Packet{pkt}) {
		t.Fatalf("expected updated")
	}
	if !f.Valid || !f.MotionOK {
		t.Fatalf("valid=%v motion=%v", f.Valid, f.MotionOK)
	}
	if math.Abs(f.LatDeg-48.1173) > 1e-4 || math.Abs(f.LonDeg-11.516666) > 1e-4 {
		t.Fatalf("lat=%v lon=%v", f.LatDeg, f.LonDeg)
	}
	if math.Abs(f.GroundKt-22.4) > 1e-9 || math.Abs(f.TrackDeg-84.4) > 1e-9 {
		t.Fatalf("gs=%v trk=%v", f.GroundKt, f.TrackDeg)
	}
	if !f.LastFix.Equal(now) {
		t.Fatalf("lastFix=%v want %v", f.LastFix, now)
	}
}

func TestFix_VoidRMCIgnored(t *testing.T) {
	pkt, err := decodePacket(nmeaLine("GPRMC,123519,V,,,,,,,230394,,"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var f Fix
	if f.Apply(time.Now(), []Packet{pkt}) {
		t.Fatalf("void RMC should not update")
	}
	if got := f.Lines(); len(got) != 2 || got[1] != "NO FIX" {
		t.Fatalf("lines=%v", got)
	}
}

func TestFix_GGAParsesAltitudeQualitySats(t *testing.T) {
	pkt, err := decodePacket(nmeaLine(ggaPayload))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var f Fix
	if !f.Apply(time.Now(), []Packet{pkt}) {
		t.Fatalf("expected updated")
	}
	wantAlt := int(math.Round(545.4 * feetPerMeter))
	if !f.AltOK || f.AltFeet != wantAlt {
		t.Fatalf("alt=%d ok=%v want %d", f.AltFeet, f.AltOK, wantAlt)
	}
	if f.FixQuality != nmea.GPS || f.Satellites != 8 || math.Abs(f.HDOP-0.9) > 1e-9 {
		t.Fatalf("quality=%q sats=%d hdop=%v", f.FixQuality, f.Satellites, f.HDOP)
	}

	lines := f.Lines()
	if len(lines) != 4 || !strings.HasPrefix(lines[2], "ALT ") || lines[3] != "Q1 SATS 8" {
		t.Fatalf("lines=%v", lines)
	}
}

func TestFix_UnknownSentenceIgnored(t *testing.T) {
	pkt, err := decodePacket(nmeaLine("PMTK001,251,3"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var f Fix
	if f.Apply(time.Now(), []Packet{pkt}) {
		t.Fatalf("proprietary ack should not update the fix")
	}
}
