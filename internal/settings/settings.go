// Package settings holds operator-editable appliance state and its
// fixed-layout persistent form. Unknown or damaged storage degrades to
// safe defaults, never to an error.
package settings

import (
	"fmt"
	"net"

	"github.com/juju/errors"
)

const DefaultTimeSource = "pool.ntp.org"

// Persistent blob layout, offsets are stable across firmware versions.
const (
	blobAddr       = 0 // 4 octets of static address
	blobStatic     = 4 // flag byte, zero/non-zero
	blobVerbose    = 5 // flag byte, zero/non-zero
	blobTimeSource = 6 // NUL-terminated string
	TimeSourceMax  = 31
	BlobSize       = blobTimeSource + TimeSourceMax + 1
)

type Settings struct {
	Static     bool    // use Addr instead of dynamic assignment
	Addr       [4]byte // static address octets
	Verbose    bool    // echo raw telemetry lines
	TimeSource string  // host or dotted address of time server
}

func Default() Settings {
	return Settings{TimeSource: DefaultTimeSource}
}

func (s *Settings) AddrString() string {
	if !s.Static {
		return "dynamic"
	}
	return net.IPv4(s.Addr[0], s.Addr[1], s.Addr[2], s.Addr[3]).String()
}

// SetAddrString parses dotted quad, blank input selects dynamic addressing.
func (s *Settings) SetAddrString(input string) error {
	if input == "" {
		s.Static = false
		s.Addr = [4]byte{}
		return nil
	}
	ip := net.ParseIP(input)
	if ip == nil {
		return errors.NotValidf("address input=%s", input)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return errors.NotValidf("address must be dotted quad input=%s", input)
	}
	copy(s.Addr[:], ip4)
	s.Static = true
	return nil
}

// SetTimeSource validates length and charset, blank input selects default.
func (s *Settings) SetTimeSource(input string) error {
	if input == "" {
		s.TimeSource = DefaultTimeSource
		return nil
	}
	if len(input) > TimeSourceMax {
		return errors.NotValidf("time source too long max=%d input=%s", TimeSourceMax, input)
	}
	for i := 0; i < len(input); i++ {
		if !printable(input[i]) {
			return errors.NotValidf("time source charset input=%q", input)
		}
	}
	s.TimeSource = input
	return nil
}

func (s *Settings) String() string {
	return fmt.Sprintf("addr=%s verbose=%t time_source=%s", s.AddrString(), s.Verbose, s.TimeSource)
}

func (s *Settings) MarshalBinary() ([]byte, error) {
	b := make([]byte, BlobSize)
	copy(b[blobAddr:blobAddr+4], s.Addr[:])
	b[blobStatic] = flagByte(s.Static)
	b[blobVerbose] = flagByte(s.Verbose)
	src := s.TimeSource
	if len(src) > TimeSourceMax {
		src = src[:TimeSourceMax]
	}
	copy(b[blobTimeSource:], src)
	return b, nil
}

// UnmarshalBinary accepts any input: short, all-zero or garbage content
// yields defaults instead of an error.
func (s *Settings) UnmarshalBinary(b []byte) error {
	*s = Default()
	if len(b) < blobTimeSource {
		return nil
	}
	copy(s.Addr[:], b[blobAddr:blobAddr+4])
	s.Static = b[blobStatic] != 0
	s.Verbose = b[blobVerbose] != 0
	if s.Static && s.Addr == [4]byte{} {
		// static mode with no address is not usable
		s.Static = false
	}

	region := b[blobTimeSource:]
	if len(region) > TimeSourceMax {
		region = region[:TimeSourceMax]
	}
	end := 0
	for ; end < len(region); end++ {
		c := region[end]
		if c == 0 {
			break
		}
		if !printable(c) {
			// garbage string poisons the whole blob
			*s = Default()
			return nil
		}
	}
	if end > 0 {
		s.TimeSource = string(region[:end])
	}
	return nil
}

func flagByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

func printable(c byte) bool { return c >= 0x21 && c <= 0x7e }
