package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"goodracer/internal/gps"
	"goodracer/internal/udp"
	"goodracer/internal/web"
)

const ggaPayload = "GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"

func TestRootCmd_FlagsReachRun(t *testing.T) {
	old := runFn
	t.Cleanup(func() { runFn = old })
	var got options
	runFn = func(cmd *cobra.Command, opts options) error {
		got = opts
		return nil
	}

	cmd := newRootCmd()
	cmd.SetArgs([]string{"-c", "board.yaml", "-B", "38400", "--gps-device", "/dev/ttyUSB0", "-v", "--no-display"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.configPath != "board.yaml" || got.gpsBaud != 38400 || got.gpsDevice != "/dev/ttyUSB0" {
		t.Fatalf("opts=%+v", got)
	}
	if !got.verbose || !got.noDisplay || !got.baudSet || !got.deviceSet {
		t.Fatalf("opts=%+v", got)
	}
}

func TestRootCmd_DefaultsLeaveConfigAlone(t *testing.T) {
	old := runFn
	t.Cleanup(func() { runFn = old })
	var got options
	runFn = func(cmd *cobra.Command, opts options) error {
		got = opts
		return nil
	}
	cmd := newRootCmd()
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.baudSet || got.deviceSet || got.noDisplay || got.verbose {
		t.Fatalf("opts=%+v", got)
	}
}

func TestRootCmd_Version(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"-V"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), version) {
		t.Fatalf("version output=%q", out.String())
	}
}

func TestRootCmd_RejectsArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"extra"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error for positional args")
	}
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	yaml := "gps:\n  source: gpsd\n  baud: 9600\nlog:\n  level: warn\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := loadConfig(options{configPath: path})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.GPS.Source != "gpsd" || cfg.Log.Level != "warn" || !cfg.Display.Enable {
		t.Fatalf("cfg=%+v", cfg)
	}

	cfg, err = loadConfig(options{
		configPath: path,
		gpsDevice:  "/dev/ttyAMA0", deviceSet: true,
		gpsBaud: 115200, baudSet: true,
		verbose:   true,
		noDisplay: true,
	})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.GPS.Source != "serial" || cfg.GPS.Device != "/dev/ttyAMA0" || cfg.GPS.Baud != 115200 {
		t.Fatalf("gps=%+v", cfg.GPS)
	}
	if cfg.Log.Level != "debug" || cfg.Display.Enable {
		t.Fatalf("cfg=%+v", cfg)
	}

	cfg, err = loadConfig(options{gpsBaud: -9600, baudSet: true})
	if err != nil {
		t.Fatalf("loadConfig negative baud: %v", err)
	}
	if got, _ := gps.EffectiveBaud(cfg.GPS.Baud); got != gps.DefaultBaud {
		t.Fatalf("effective baud=%d want %d", got, gps.DefaultBaud)
	}

	if _, err := loadConfig(options{configPath: filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Fatalf("expected error for missing config")
	}
}

func parseBatch(t *testing.T, payloads ...string) []gps.Packet {
	t.Helper()
	var in strings.Builder
	for _, p := range payloads {
		in.WriteString(gps.Sentence(p))
	}
	batch, err := gps.NewNMEAParser().Parse([]byte(in.String()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return batch
}

func TestApp_OnReadTracksFixAndSummary(t *testing.T) {
	a := newApp()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	a.onRead(nil, nil, parseBatch(t, ggaPayload, "PMTK001,604,3"))

	if !a.fix.Valid || !a.fix.LastFix.Equal(now) {
		t.Fatalf("fix=%+v", a.fix)
	}
	if len(a.lastLines) == 0 || !strings.HasPrefix(a.lastLines[0], "LAT") {
		t.Fatalf("lastLines=%v", a.lastLines)
	}
	if a.summary.Packets != 2 || a.summary.TypeCounts["GPGGA"] != 1 || a.summary.TypeCounts["PMTK001"] != 1 {
		t.Fatalf("summary=%+v", a.summary)
	}
}

func TestSentenceSummary_Lines(t *testing.T) {
	s := newSentenceSummary()
	s.add(parseBatch(t, ggaPayload, ggaPayload, "PXYZZ,1"))
	lines := s.lines()
	want := []string{"sentences=3 undecoded=1", "  GPGGA: 2", "  PXYZZ: 1"}
	if len(lines) != len(want) {
		t.Fatalf("lines=%q want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("lines[%d]=%q want %q", i, lines[i], want[i])
		}
	}
}

func TestApp_ForwardsRawSentences(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer pc.Close()
	fwd, err := udp.NewForwarder(pc.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewForwarder: %v", err)
	}
	defer fwd.Close()

	a := newApp()
	a.fwd = fwd
	a.onRead(nil, nil, parseBatch(t, ggaPayload))

	_ = pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if got, want := string(buf[:n]), gps.Sentence(ggaPayload); got != want {
		t.Fatalf("datagram=%q want %q", got, want)
	}
}

func TestApp_PublishesStatus(t *testing.T) {
	a := newApp()
	a.status = web.NewStatus()
	a.onRead(nil, nil, parseBatch(t, ggaPayload))

	snap := a.status.Snapshot(time.Time{})
	if !snap.Fix.Valid || snap.Fix.AltFeet == nil || snap.Fix.GroundKt != nil {
		t.Fatalf("fix=%+v", snap.Fix)
	}
	if snap.Fix.Satellites != 8 || snap.LastFixUTC == "" {
		t.Fatalf("snap=%+v", snap)
	}
}
