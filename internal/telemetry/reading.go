// Package telemetry assembles instrument serial output into structured
// readings. Input is line oriented ASCII, one complete measurement per line.
package telemetry

import (
	"strings"
	"time"
)

// StampLayout is the wall time format served to clients.
const StampLayout = "15:04:05 01/02/2006"

// ZeroStampText is served before the first accepted line.
const ZeroStampText = "00:00:00 00/00/0000"

// Field is one name=value item in instrument order.
// Values pass through verbatim, nothing here interprets them.
type Field struct {
	Name  string
	Value string
}

// Reading is a complete measurement. Replaced whole on line accept,
// Fields are never modified after that.
type Reading struct {
	At     time.Time
	Fields []Field
}

func (r Reading) Empty() bool { return r.At.IsZero() && len(r.Fields) == 0 }

// StampText renders timestamp for both the page and data line renderers.
func (r Reading) StampText() string {
	if r.At.IsZero() {
		return ZeroStampText
	}
	return r.At.Format(StampLayout)
}

func (r Reading) Field(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

func (r Reading) String() string {
	sb := strings.Builder{}
	sb.WriteString(r.StampText())
	for _, f := range r.Fields {
		sb.WriteByte(' ')
		sb.WriteString(f.Name)
		sb.WriteByte('=')
		sb.WriteString(f.Value)
	}
	return sb.String()
}
