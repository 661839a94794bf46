package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

type options struct {
	configPath string
	gpsDevice  string
	gpsBaud    int
	verbose    bool
	noDisplay  bool

	// Which flags were given explicitly; only those override the config file.
	deviceSet bool
	baudSet   bool
}

var runFn = run

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "goodracer",
		Short: "GPS and display supervisor for an embedded Linux board",
		Long: `goodracer watches a serial (or gpsd) NMEA receiver, decodes its
sentences and shows the current fix on an SSD1306 OLED.

It stops on SIGINT or SIGTERM. Crash-class signals print a backtrace first.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.deviceSet = cmd.Flags().Changed("gps-device")
			opts.baudSet = cmd.Flags().Changed("gps-baud-rate")
			return runFn(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "Path to YAML config")
	f.StringVar(&opts.gpsDevice, "gps-device", "", "GPS serial device (default /dev/serial0)")
	f.IntVarP(&opts.gpsBaud, "gps-baud-rate", "B", 0, "GPS baud rate: 9600, 19200, 38400, 57600 or 115200")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	f.BoolVar(&opts.noDisplay, "no-display", false, "Run without the OLED display")
	f.BoolP("version", "V", false, "Print version and exit")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "goodracer: %v\n", err)
		os.Exit(1)
	}
}
