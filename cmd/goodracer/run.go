package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"goodracer/internal/config"
	"goodracer/internal/display"
	"goodracer/internal/gps"
	"goodracer/internal/logging"
	"goodracer/internal/reactor"
	"goodracer/internal/supervisor"
	"goodracer/internal/udp"
	"goodracer/internal/web"
)

var (
	openDisplayFn = display.Open
	openGPSFn     = gps.Open
	dialGPSDFn    = gps.DialGPSD
)

func loadConfig(opts options) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		cfg, err = config.Load(opts.configPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("config load failed: %w", err)
		}
	}
	if opts.deviceSet {
		cfg.GPS.Source = config.GPSSourceSerial
		cfg.GPS.Device = opts.gpsDevice
	}
	if opts.baudSet {
		cfg.GPS.Baud = opts.gpsBaud
	}
	if opts.noDisplay {
		cfg.Display.Enable = false
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}
	if err := config.DefaultAndValidate(&cfg); err != nil {
		return config.Config{}, fmt.Errorf("config invalid: %w", err)
	}
	return cfg, nil
}

func run(cmd *cobra.Command, opts options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	log := logging.NewConsole(os.Stderr, level)
	defer func() { _ = log.Sync() }()

	loop, err := reactor.New()
	if err != nil {
		return err
	}
	sup, err := supervisor.New(loop, supervisor.WithOwnedLoop(), supervisor.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() {
		if err := sup.Close(); err != nil {
			log.Warnf("cleanup: %v", err)
		}
	}()

	if cfg.Display.Enable {
		attachDisplay(sup, cfg.Display, log)
	}

	src, err := openSource(cmd.Context(), cfg.GPS, log)
	if err != nil {
		return err
	}
	a := newApp()
	if cfg.GPS.ForwardUDP != "" {
		fwd, err := udp.NewForwarder(cfg.GPS.ForwardUDP)
		if err != nil {
			_ = src.Release()
			return fmt.Errorf("gps forward: %w", err)
		}
		defer fwd.Close()
		a.fwd = fwd
		log.Infof("gps forwarding to udp dest=%s", fwd.Dest())
	}
	err = sup.WatchGPS(src, a.onRead, a.onError)
	// The supervisor holds its own reference from here on.
	_ = src.Release()
	if err != nil {
		return err
	}

	gpsSrc := sup.GPS()
	log.Infof("goodracer %s starting gps=%s baud=%d display=%t", version, gpsSrc.Device(), gpsSrc.Baud(), sup.Display() != nil)

	if cfg.Web.Listen != "" {
		stop, err := startStatusServer(cfg.Web.Listen, a, log)
		if err != nil {
			return err
		}
		defer stop()
		a.status.SetStatic(web.StaticInfo{
			Version:   version,
			GPSDevice: gpsSrc.Device(),
			GPSBaud:   gpsSrc.Baud(),
			Display:   sup.Display() != nil,
		})
	}

	status, err := sup.Run()
	if err != nil {
		return err
	}
	log.Infof("goodracer stopping status=%d", status)
	for _, line := range a.summary.lines() {
		log.Infof("%s", line)
	}
	if a.fwd != nil {
		sent, failed := a.fwd.Counts()
		log.Infof("udp forward dest=%s sent=%d failed=%d", a.fwd.Dest(), sent, failed)
	}
	if a.gpsErr != nil {
		return fmt.Errorf("gps: %w", a.gpsErr)
	}
	return nil
}

// attachDisplay hands the panel to the supervisor. The display is optional:
// failures are logged and the run continues without it.
func attachDisplay(sup *supervisor.Supervisor, dc config.DisplayConfig, log *logging.Logger) {
	dh, err := openDisplayFn(dc.DriverConfig())
	if err != nil {
		log.Warnf("display unavailable bus=%s addr=0x%02X: %v", dc.Bus, dc.Addr, err)
		return
	}
	defer func() { _ = dh.Release() }()
	if err := sup.SetDisplay(dh); err != nil {
		log.Warnf("display attach failed: %v", err)
		return
	}
	if err := dh.Value().DrawLines([]string{"goodracer", "waiting for GPS"}); err != nil {
		log.Warnf("display draw failed: %v", err)
	}
	st, err := dh.Value().Status()
	switch {
	case err != nil:
		log.Debugf("display status unavailable: %v", err)
	case st&display.StatusDisplayOff != 0:
		log.Warnf("display reports panel off status=0x%02X", st)
	default:
		log.Debugf("display status=0x%02X", st)
	}
}

func openSource(ctx context.Context, gc config.GPSConfig, log *logging.Logger) (*gps.Handle, error) {
	switch gc.Source {
	case config.GPSSourceGPSD:
		if ctx == nil {
			ctx = context.Background()
		}
		h, err := dialGPSDFn(ctx, gc.GPSDAddr)
		if err != nil {
			return nil, err
		}
		log.Infof("gps connected to gpsd addr=%s", gc.GPSDAddr)
		return h, nil
	default:
		return openGPSFn(gc.SerialConfig(log))
	}
}

// startStatusServer binds addr right away so a busy port fails the run, then
// serves in the background until the returned stop func is called.
func startStatusServer(addr string, a *app, log *logging.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("web listen %s: %w", addr, err)
	}
	a.status = web.NewStatus()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := web.Serve(ctx, ln, a.status); err != nil && !errors.Is(err, context.Canceled) {
			log.Warnf("web server stopped: %v", err)
		}
	}()
	log.Infof("web status listening addr=%s", ln.Addr())
	return func() {
		cancel()
		<-done
	}, nil
}

// app is the state behind the GPS callbacks. It is only touched from the
// supervisor's Run goroutine.
type app struct {
	fix       gps.Fix
	lastLines []string
	summary   sentenceSummary
	fwd       *udp.Forwarder
	fwdWarned bool
	status    *web.Status
	gpsErr    error
	now       func() time.Time
}

func newApp() *app {
	return &app{summary: newSentenceSummary(), now: time.Now}
}

func (a *app) onRead(s *supervisor.Supervisor, _ *gps.Source, batch []gps.Packet) {
	a.summary.add(batch)
	a.forward(s, batch)
	now := a.now().UTC()
	updated := a.fix.Apply(now, batch)
	if a.status != nil {
		a.status.SetCounters(countersFrom(s.Stats()))
		if updated {
			a.status.SetFix(now, fixSnapshot(a.fix))
		}
	}
	if !updated {
		return
	}
	lines := a.fix.Lines()
	if slices.Equal(lines, a.lastLines) {
		return
	}
	a.lastLines = lines
	d := s.Display()
	if d == nil {
		return
	}
	if err := d.DrawLines(lines); err != nil {
		s.Logger().Warnf("display draw failed: %v", err)
	}
}

func (a *app) forward(s *supervisor.Supervisor, batch []gps.Packet) {
	if a.fwd == nil {
		return
	}
	raw := make([]string, len(batch))
	for i, p := range batch {
		raw[i] = p.Raw
	}
	if err := a.fwd.SendSentences(raw); err != nil && !a.fwdWarned {
		// Warn once; Counts keeps the tally.
		a.fwdWarned = true
		s.Logger().Warnf("udp forward dest=%s failed: %v", a.fwd.Dest(), err)
	}
}

func (a *app) onError(s *supervisor.Supervisor, src *gps.Source, err error) {
	a.gpsErr = err
	if d := s.Display(); d != nil {
		_ = d.DrawLines([]string{"GPS", "LOST"})
	}
	if errors.Is(err, os.ErrClosed) {
		return
	}
	s.Logger().Errorf("gps device=%s stopped; restart to reconnect", src.Device())
}

func fixSnapshot(f gps.Fix) web.FixSnapshot {
	snap := web.FixSnapshot{
		Valid:      f.Valid,
		LatDeg:     f.LatDeg,
		LonDeg:     f.LonDeg,
		FixQuality: f.FixQuality,
		Satellites: f.Satellites,
		HDOP:       f.HDOP,
	}
	if f.AltOK {
		alt := f.AltFeet
		snap.AltFeet = &alt
	}
	if f.MotionOK {
		gs, trk := f.GroundKt, f.TrackDeg
		snap.GroundKt = &gs
		snap.TrackDeg = &trk
	}
	return snap
}

func countersFrom(st supervisor.Stats) web.Counters {
	return web.Counters{
		Reads:         st.Reads,
		BytesRead:     st.BytesRead,
		SpuriousWakes: st.SpuriousWakes,
		ParseFailures: st.ParseFailures,
		Batches:       st.Batches,
		Packets:       st.Packets,
	}
}
