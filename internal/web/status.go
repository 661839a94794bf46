package web

import (
	"sync/atomic"
	"time"
)

// Status is written from the supervisor goroutine and read by HTTP handlers.
type Status struct {
	startUnixNano int64
	lastFixNano   int64
	static        atomic.Value // StaticInfo
	fix           atomic.Value // FixSnapshot
	counters      atomic.Value // Counters
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.static.Store(StaticInfo{})
	s.fix.Store(FixSnapshot{})
	s.counters.Store(Counters{})
	return s
}

type StaticInfo struct {
	Version   string `json:"version"`
	GPSDevice string `json:"gps_device"`
	GPSBaud   int    `json:"gps_baud"`
	Display   bool   `json:"display"`
}

// FixSnapshot is the last known position. Optional values are omitted when
// unknown.
type FixSnapshot struct {
	Valid      bool     `json:"valid"`
	LatDeg     float64  `json:"lat_deg"`
	LonDeg     float64  `json:"lon_deg"`
	AltFeet    *int     `json:"alt_feet,omitempty"`
	GroundKt   *float64 `json:"ground_kt,omitempty"`
	TrackDeg   *float64 `json:"track_deg,omitempty"`
	FixQuality string   `json:"fix_quality,omitempty"`
	Satellites int64    `json:"satellites"`
	HDOP       float64  `json:"hdop"`
}

// Counters mirror the GPS watcher statistics.
type Counters struct {
	Reads         uint64 `json:"reads"`
	BytesRead     uint64 `json:"bytes_read"`
	SpuriousWakes uint64 `json:"spurious_wakes"`
	ParseFailures uint64 `json:"parse_failures"`
	Batches       uint64 `json:"batches"`
	Packets       uint64 `json:"packets"`
}

func (s *Status) SetStatic(info StaticInfo) {
	s.static.Store(info)
}

func (s *Status) SetFix(nowUTC time.Time, fix FixSnapshot) {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	s.fix.Store(fix)
	if fix.Valid {
		atomic.StoreInt64(&s.lastFixNano, nowUTC.UnixNano())
	}
}

func (s *Status) SetCounters(c Counters) {
	s.counters.Store(c)
}

type StatusSnapshot struct {
	Service    string      `json:"service"`
	NowUTC     string      `json:"now_utc"`
	UptimeSec  int64       `json:"uptime_sec"`
	Static     StaticInfo  `json:"static"`
	Fix        FixSnapshot `json:"fix"`
	LastFixUTC string      `json:"last_fix_utc,omitempty"`
	Counters   Counters    `json:"counters"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	lastFix := atomic.LoadInt64(&s.lastFixNano)

	snap := StatusSnapshot{
		Service:   "goodracer",
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		Static:    s.static.Load().(StaticInfo),
		Fix:       s.fix.Load().(FixSnapshot),
		Counters:  s.counters.Load().(Counters),
	}
	if lastFix != 0 {
		snap.LastFixUTC = time.Unix(0, lastFix).UTC().Format(time.RFC3339Nano)
	}
	return snap
}
