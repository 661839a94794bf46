package main

import (
	"fmt"
	"sort"

	"goodracer/internal/gps"
)

// sentenceSummary counts decoded sentences by talker and type for the exit
// report.
type sentenceSummary struct {
	Packets    int
	Undecoded  int
	TypeCounts map[string]int
}

func newSentenceSummary() sentenceSummary {
	return sentenceSummary{TypeCounts: map[string]int{}}
}

func (s *sentenceSummary) add(batch []gps.Packet) {
	for _, p := range batch {
		s.Packets++
		if p.Sentence == nil {
			// Checksum was fine, go-nmea has no decoder for it.
			s.Undecoded++
		}
		s.TypeCounts[p.Talker+p.Type]++
	}
}

func (s sentenceSummary) lines() []string {
	out := []string{fmt.Sprintf("sentences=%d undecoded=%d", s.Packets, s.Undecoded)}
	keys := make([]string, 0, len(s.TypeCounts))
	for k := range s.TypeCounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, fmt.Sprintf("  %s: %d", k, s.TypeCounts[k]))
	}
	return out
}
