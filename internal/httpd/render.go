package httpd

import (
	"fmt"
	"html"
	"strings"

	"github.com/temoto/radmon/internal/telemetry"
)

// dataLine is the machine surface: stamp and fields in capture order
// between fixed sentinels. Collectors strip the sentinels and split on
// commas, field order is part of the contract.
func dataLine(r telemetry.Reading) string {
	b := &strings.Builder{}
	b.Grow(96)
	b.WriteString("$,UTC=")
	b.WriteString(r.StampText())
	for _, f := range r.Fields {
		b.WriteByte(',')
		b.WriteString(f.Name)
		b.WriteByte('=')
		b.WriteString(f.Value)
	}
	b.WriteString(",#")
	return b.String()
}

// pageHTML is the human surface, same field sequence as dataLine.
func pageHTML(r telemetry.Reading) string {
	b := &strings.Builder{}
	b.Grow(512)
	b.WriteString(`<!DOCTYPE html>
<html>
<head><title>Radiation Monitor</title></head>
<body>
<h1>Radiation Monitor</h1>
`)
	fmt.Fprintf(b, "<p>UTC %s</p>\n<table>\n", r.StampText())
	for _, f := range r.Fields {
		fmt.Fprintf(b, "<tr><td>%s</td><td>%s</td></tr>\n",
			html.EscapeString(f.Name), html.EscapeString(f.Value))
	}
	b.WriteString("</table>\n</body>\n</html>\n")
	return b.String()
}
