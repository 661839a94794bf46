package gps

import (
	"fmt"
	"strings"

	"github.com/adrianmo/go-nmea"
)

// Sentences longer than this are treated as line noise. NMEA 0183 caps them at
// 82 characters; some receivers exceed it with proprietary sentences.
const maxSentenceLen = 256

// Packet is one decoded sentence. Sentence is nil when go-nmea has no decoder
// for the type; Raw and Fields are always set.
type Packet struct {
	Raw      string
	Talker   string
	Type     string
	Fields   []string
	Sentence nmea.Sentence
}

// Parser turns an unframed byte stream into packets. Parse may be called with
// any split of the stream; partial sentences are kept until completed or
// Reset.
type Parser interface {
	Parse(p []byte) ([]Packet, error)
	Reset()
}

type NMEAParser struct {
	buf     []byte
	inFrame bool
}

func NewNMEAParser() *NMEAParser {
	return &NMEAParser{buf: make([]byte, 0, maxSentenceLen)}
}

// Parse consumes p and returns every sentence completed by it. An invalid
// sentence fails the whole call; the caller is expected to Reset.
func (p *NMEAParser) Parse(b []byte) ([]Packet, error) {
	var out []Packet
	for _, c := range b {
		if !p.inFrame {
			// Skip noise between sentences.
			if c == '$' {
				p.inFrame = true
				p.buf = append(p.buf[:0], c)
			}
			continue
		}
		switch c {
		case '\n':
			line := strings.TrimRight(string(p.buf), "\r")
			p.inFrame = false
			p.buf = p.buf[:0]
			pkt, err := decodePacket(line)
			if err != nil {
				return nil, err
			}
			out = append(out, pkt)
		case '$':
			return nil, fmt.Errorf("nmea: unterminated sentence %q", string(p.buf))
		default:
			p.buf = append(p.buf, c)
			if len(p.buf) > maxSentenceLen {
				return nil, fmt.Errorf("nmea: sentence exceeds %d bytes", maxSentenceLen)
			}
		}
	}
	return out, nil
}

func (p *NMEAParser) Reset() {
	p.inFrame = false
	p.buf = p.buf[:0]
}

// Pending reports how many bytes of an incomplete sentence are buffered.
func (p *NMEAParser) Pending() int {
	return len(p.buf)
}

func decodePacket(line string) (Packet, error) {
	s, err := parseNMEASentence(line)
	if err != nil {
		return Packet{}, err
	}
	pkt := Packet{Raw: line, Talker: s.Talker, Type: s.Type, Fields: s.Fields}
	if sent, err := nmea.Parse(line); err == nil {
		pkt.Sentence = sent
	}
	return pkt, nil
}
