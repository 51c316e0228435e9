package telemetry

import (
	"strings"
	"time"

	"github.com/temoto/radmon/internal/clock"
	"github.com/temoto/radmon/log2"
)

const (
	// LineMax bounds reassembly, instrument lines are ~40 bytes.
	LineMax = 64
	// Sentinel starts every valid instrument line.
	Sentinel = "CPS"
)

type Stat struct {
	Accept   uint32
	Reject   uint32
	Overflow uint32
}

// Framer reassembles the serial byte stream into Readings.
// Single owner, not safe for concurrent Feed.
type Framer struct {
	clk  *clock.Clock
	log  *log2.Log
	echo bool

	buf  [LineMax]byte
	used int
	// drop discards input after overflow until LF or the sentinel reappears
	drop bool
	win  [len(Sentinel)]byte

	current Reading
	stat    Stat
}

func NewFramer(clk *clock.Clock, log *log2.Log) *Framer {
	if clk == nil {
		panic("code error telemetry.NewFramer clk=nil")
	}
	return &Framer{clk: clk, log: log}
}

// SetEcho toggles raw line echo of completed lines.
func (f *Framer) SetEcho(on bool) { f.echo = on }

// Current returns the last accepted reading, zero before first accept.
func (f *Framer) Current() Reading { return f.current }

func (f *Framer) Stat() Stat { return f.stat }

func (f *Framer) FeedBytes(p []byte) {
	for _, b := range p {
		f.Feed(b)
	}
}

func (f *Framer) Feed(b byte) {
	if b == '\r' {
		return
	}
	if b == '\n' {
		if f.drop {
			f.drop = false
			f.used = 0
			return
		}
		f.endLine()
		return
	}
	if f.drop {
		f.win[0], f.win[1], f.win[2] = f.win[1], f.win[2], b
		if string(f.win[:]) == Sentinel {
			// instrument started a fresh line, resume without waiting for LF
			f.drop = false
			f.used = copy(f.buf[:], Sentinel)
		}
		return
	}
	if f.used == LineMax {
		f.stat.Overflow++
		f.log.Debugf("telemetry overflow buf=%q", string(f.buf[:]))
		f.drop = true
		f.used = 0
		f.win = [len(Sentinel)]byte{}
		f.win[len(Sentinel)-1] = b
		return
	}
	f.buf[f.used] = b
	f.used++
	if f.used > len(Sentinel) && string(f.buf[f.used-len(Sentinel):f.used]) == Sentinel {
		// sentinel mid-line means the previous line lost its terminator
		f.stat.Reject++
		f.log.Debugf("telemetry resync partial=%q", string(f.buf[:f.used-len(Sentinel)]))
		f.used = copy(f.buf[:], Sentinel)
	}
}

func (f *Framer) endLine() {
	line := string(f.buf[:f.used])
	f.used = 0
	if line == "" {
		return
	}
	if f.echo {
		f.log.Infof("serial: %s", line)
	}
	if !strings.HasPrefix(line, Sentinel) {
		f.stat.Reject++
		f.log.Debugf("telemetry reject line=%q", line)
		return
	}
	f.current = Reading{
		At:     f.clk.Now().Truncate(time.Second),
		Fields: parseFields(line),
	}
	f.stat.Accept++
}

// parseFields pairs comma separated tokens as (name, value).
// A trailing lone token is the instrument operating mode.
func parseFields(line string) []Field {
	tokens := strings.Split(line, ",")
	for i := range tokens {
		tokens[i] = strings.TrimSpace(tokens[i])
	}
	fields := make([]Field, 0, (len(tokens)+1)/2)
	i := 0
	for ; i+1 < len(tokens); i += 2 {
		fields = append(fields, Field{Name: tokens[i], Value: tokens[i+1]})
	}
	if i < len(tokens) && tokens[i] != "" {
		fields = append(fields, Field{Name: "Mode", Value: tokens[i]})
	}
	return fields
}
