// Bench stand-in for the counting instrument. Prints well formed
// telemetry lines once a second to stdout or a serial port.
package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/radmon/helpers"
	"github.com/temoto/radmon/log2"
	"go.bug.st/serial"
)

// SBM-20 tube conversion factor
const usvPerCpm = 0.0057

// auto mode switches to the short averaging window on high rate,
// matching the instrument firmware
const fastThreshold = 1000

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	device := cmdline.String("device", "", "serial output, empty=stdout")
	baud := cmdline.Int("baud", 9600, "")
	period := cmdline.Duration("period", time.Second, "")
	mean := cmdline.Float64("mean", 25, "mean CPM of the simulated source")
	count := cmdline.Int("count", 0, "lines to emit, 0=forever")
	mode := cmdline.String("mode", "auto", "auto|SLOW|FAST|INST")
	cmdline.Parse(os.Args[1:])

	log := log2.NewStderr(log2.LDebug)
	log.SetFlags(log2.LInteractiveFlags)

	out := io.Writer(os.Stdout)
	if *device != "" {
		p, err := serial.Open(*device, &serial.Mode{BaudRate: *baud})
		if err != nil {
			if ports, e2 := serial.GetPortsList(); e2 == nil {
				log.Infof("serial ports available=%v", ports)
			}
			log.Fatal(errors.Annotatef(err, "open device=%s", *device))
		}
		defer p.Close()
		out = p
		log.Infof("emitting to device=%s baud=%d", *device, *baud)
	}

	src := newSource(*mean)
	tick := time.NewTicker(*period)
	defer tick.Stop()
	for i := 0; *count == 0 || i < *count; i++ {
		line := src.line(*mode)
		if err := helpers.WriteAll(out, []byte(line+"\r\n")); err != nil {
			log.Fatal(errors.Trace(err))
		}
		<-tick.C
	}
}

type source struct {
	rnd *rand.Rand
	// counts per second of the simulated source
	lambda float64
	// sliding window of the last 60 one-second counts
	window [60]int
	filled int
	next   int
}

func newSource(meanCpm float64) *source {
	return &source{rnd: helpers.RandUnix(), lambda: meanCpm / 60}
}

func (s *source) line(mode string) string {
	cps := s.sample()
	s.window[s.next] = cps
	s.next = (s.next + 1) % len(s.window)
	if s.filled < len(s.window) {
		s.filled++
	}
	sum := 0
	for _, c := range s.window[:s.filled] {
		sum += c
	}
	// scale up until the window fills, like the instrument after boot
	cpm := sum * len(s.window) / s.filled
	if mode == "auto" {
		mode = "SLOW"
		if cpm > fastThreshold {
			mode = "FAST"
		}
	}
	return fmt.Sprintf("CPS, %d, CPM, %d, uSv/hr, %.2f, %s", cps, cpm, float64(cpm)*usvPerCpm, mode)
}

// Knuth sampling, fine for bench rates
func (s *source) sample() int {
	l := math.Exp(-s.lambda)
	k := 0
	p := 1.0
	for {
		p *= s.rnd.Float64()
		if p <= l {
			return k
		}
		k++
	}
}
