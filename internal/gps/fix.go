package gps

import (
	"fmt"
	"math"
	"time"

	"github.com/adrianmo/go-nmea"
)

const feetPerMeter = 3.280839895013123

// Fix folds RMC and GGA packets into the latest known position.
type Fix struct {
	Valid bool

	LatDeg float64
	LonDeg float64

	AltFeet int
	AltOK   bool

	GroundKt float64
	TrackDeg float64
	MotionOK bool

	FixQuality string
	Satellites int64
	HDOP       float64

	LastFix time.Time
}

// Apply updates the fix from a batch and reports whether anything changed.
func (f *Fix) Apply(nowUTC time.Time, batch []Packet) bool {
	updated := false
	for _, p := range batch {
		switch s := p.Sentence.(type) {
		case nmea.RMC:
			if f.applyRMC(nowUTC, s) {
				updated = true
			}
		case nmea.GGA:
			if f.applyGGA(nowUTC, s) {
				updated = true
			}
		}
	}
	return updated
}

func (f *Fix) applyRMC(nowUTC time.Time, s nmea.RMC) bool {
	if s.Validity != nmea.ValidRMC {
		// Do not update validity on void fixes.
		return false
	}
	f.LatDeg = s.Latitude
	f.LonDeg = s.Longitude
	f.GroundKt = s.Speed
	f.TrackDeg = math.Mod(s.Course+360.0, 360.0)
	f.MotionOK = true
	f.Valid = true
	f.LastFix = nowUTC
	return true
}

func (f *Fix) applyGGA(nowUTC time.Time, s nmea.GGA) bool {
	if s.FixQuality == "" || s.FixQuality == nmea.Invalid {
		return false
	}
	f.FixQuality = s.FixQuality
	f.Satellites = s.NumSatellites
	f.HDOP = s.HDOP
	f.LatDeg = s.Latitude
	f.LonDeg = s.Longitude
	f.AltFeet = int(math.Round(s.Altitude * feetPerMeter))
	f.AltOK = true
	f.Valid = true
	f.LastFix = nowUTC
	return true
}

// Lines renders the fix as short text rows for a small panel.
func (f *Fix) Lines() []string {
	if !f.Valid {
		return []string{"GPS", "NO FIX"}
	}
	lines := []string{
		fmt.Sprintf("LAT %9.5f", f.LatDeg),
		fmt.Sprintf("LON %10.5f", f.LonDeg),
	}
	if f.AltOK {
		lines = append(lines, fmt.Sprintf("ALT %dft", f.AltFeet))
	}
	if f.MotionOK {
		lines = append(lines, fmt.Sprintf("GS %.0fkt TRK %03.0f", f.GroundKt, f.TrackDeg))
	}
	if f.FixQuality != "" {
		lines = append(lines, fmt.Sprintf("Q%s SATS %d", f.FixQuality, f.Satellites))
	}
	return lines
}
