// Package httpd is the report surface of the appliance: a deliberately
// minimal HTTP/1.1 subset served one connection at a time from the
// cooperative poll loop. No goroutine per connection, no multiplexing,
// bounded parsing. Anything outside the subset gets the fixed 404.
package httpd

import (
	"bufio"
	"context"
	"expvar"
	"io"
	"net"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/radmon/helpers"
	"github.com/temoto/radmon/internal/settings"
	"github.com/temoto/radmon/internal/state"
	"github.com/temoto/radmon/log2"
)

const (
	pathMax        = 32
	requestLineMax = 256
	headerMax      = 4 << 10
	tcpOverhead    = 40

	// all responses ask the client to come back shortly
	refreshHeader = "Refresh: 5"

	status200   = "200 OK"
	status404   = "404 Not Found"
	contentHTML = "text/html"
	contentText = "text/plain"
	body404     = "404 not found\r\n"
	eol         = "\r\n"
)

type Config struct {
	Address       string
	AcceptTimeout time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	Drain         time.Duration
}

func (c *Config) normalize() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.AcceptTimeout == 0 {
		c.AcceptTimeout = 10 * time.Millisecond
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 200 * time.Millisecond
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 1 * time.Second
	}
	if c.Drain == 0 {
		c.Drain = 100 * time.Millisecond
	}
}

type Stat struct {
	Requests expvar.Int
	NotFound expvar.Int
	Errors   expvar.Int
	RecvSize expvar.Int
	SendSize expvar.Int
}

type Server struct {
	g    *state.Global
	log  *log2.Log
	conf Config
	ll   net.Listener
	tcp  *net.TCPListener
	stat Stat
}

func (s *Server) Init(ctx context.Context) error {
	s.g = state.GetGlobal(ctx)
	s.log = s.g.Log
	s.conf = Config{
		Address:      s.g.Config.Listen.Address,
		ReadTimeout:  helpers.IntMillisecondDefault(s.g.Config.Listen.ReadTimeoutMs, 0),
		WriteTimeout: helpers.IntMillisecondDefault(s.g.Config.Listen.WriteTimeoutMs, 0),
		Drain:        helpers.IntMillisecondDefault(s.g.Config.Listen.DrainMs, 0),
	}
	s.conf.normalize()

	addr, err := bindAddress(s.conf.Address, s.g.Settings)
	if err != nil {
		return errors.Trace(err)
	}
	ll, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Annotatef(err, "httpd listen=%s", addr)
	}
	tcp, ok := ll.(*net.TCPListener)
	if !ok {
		_ = ll.Close()
		return errors.Errorf("httpd listener unexpected type=%T", ll)
	}
	s.ll, s.tcp = ll, tcp
	s.log.Infof("httpd: listen=%s", ll.Addr().String())
	return nil
}

func (s *Server) Addr() string {
	if s.ll == nil {
		return ""
	}
	return s.ll.Addr().String()
}

func (s *Server) Stat() *Stat { return &s.stat }

func (s *Server) Close() error {
	if s.ll == nil {
		return nil
	}
	return s.ll.Close()
}

// HandleOne waits for a client up to the accept timeout and serves at
// most one request to completion. Quiet periods return (false, nil)
// quickly so the poll loop keeps turning.
func (s *Server) HandleOne(ctx context.Context) (restart bool, err error) {
	if err = s.tcp.SetDeadline(time.Now().Add(s.conf.AcceptTimeout)); err != nil {
		return false, errors.Annotate(err, "httpd accept deadline")
	}
	conn, err := s.tcp.Accept()
	if err != nil {
		if neterr, ok := err.(net.Error); ok && neterr.Timeout() {
			return false, nil
		}
		return false, errors.Annotate(err, "httpd accept")
	}
	return s.serve(ctx, conn), nil
}

func (s *Server) serve(ctx context.Context, conn net.Conn) (restart bool) {
	defer func() { _ = conn.Close() }()
	s.stat.Requests.Add(1)
	remote := addrString(conn.RemoteAddr())

	_ = conn.SetReadDeadline(time.Now().Add(s.conf.ReadTimeout))
	br := bufio.NewReaderSize(helpers.NewStatReader(conn, &s.stat.RecvSize, tcpOverhead), 512)
	path, err := readRequest(br)
	if err == nil {
		// response must not go out before the request is consumed,
		// closing with unread input makes the peer drop our data
		drainHeader(br)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(s.conf.WriteTimeout))
	w := helpers.NewStatWriter(conn, &s.stat.SendSize, tcpOverhead)

	reading := s.g.Telemetry.Framer.Current()
	var werr error
	switch {
	case err != nil:
		s.stat.NotFound.Add(1)
		s.log.Debugf("httpd: remote=%s request err=%s", remote, netErrString(err))
		werr = respond(w, status404, contentText, body404)
	case path == "/":
		werr = respond(w, status200, contentHTML, pageHTML(reading))
	case path == "/rdata":
		werr = respond(w, status200, contentText, dataLine(reading)+eol)
	case path == "/reset":
		werr = respond(w, status200, contentText, "ok"+eol)
		restart = true
	default:
		s.stat.NotFound.Add(1)
		werr = respond(w, status404, contentText, body404)
	}
	if werr != nil {
		s.stat.Errors.Add(1)
		s.log.Debugf("httpd: remote=%s send err=%s", remote, netErrString(werr))
	} else {
		s.log.Debugf("httpd: remote=%s path=%s restart=%t", remote, path, restart)
	}

	// let the client read everything before close
	time.Sleep(s.conf.Drain)
	return restart
}

// readRequest parses `GET <path> ...` with a fixed path capacity.
// Anything else, including overflow, is a client error.
func readRequest(r *bufio.Reader) (string, error) {
	const method = "GET "
	for i := 0; i < len(method); i++ {
		b, err := r.ReadByte()
		if err != nil {
			return "", errors.Annotate(err, "request line")
		}
		if b != method[i] {
			return "", errors.Errorf("request method")
		}
	}

	var buf [pathMax]byte
	used := 0
	eolSeen := false
pathLoop:
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", errors.Annotate(err, "request path")
		}
		switch b {
		case ' ':
			break pathLoop
		case '\r':
		case '\n':
			eolSeen = true
			break pathLoop
		default:
			if used >= pathMax {
				return "", errors.Errorf("request path overflow")
			}
			buf[used] = b
			used++
		}
	}
	if used == 0 {
		return "", errors.Errorf("request path empty")
	}

	for n := 0; !eolSeen; n++ {
		if n >= requestLineMax {
			return "", errors.Errorf("request line overflow")
		}
		b, err := r.ReadByte()
		if err != nil {
			return "", errors.Annotate(err, "request line")
		}
		if b == '\n' {
			eolSeen = true
		}
	}
	return string(buf[:used]), nil
}

// drainHeader consumes remaining header lines until the empty line,
// best effort, bounded. The response does not depend on the outcome.
func drainHeader(r *bufio.Reader) {
	blank := true
	for n := 0; n < headerMax; n++ {
		b, err := r.ReadByte()
		if err != nil {
			return
		}
		switch b {
		case '\r':
		case '\n':
			if blank {
				return
			}
			blank = true
		default:
			blank = false
		}
	}
}

func respond(w io.Writer, status, contentType, body string) error {
	b := make([]byte, 0, 128+len(body))
	b = append(b, "HTTP/1.1 "...)
	b = append(b, status...)
	b = append(b, "\r\nContent-Type: "...)
	b = append(b, contentType...)
	b = append(b, "\r\nConnection: close\r\n"...)
	b = append(b, refreshHeader...)
	b = append(b, "\r\n\r\n"...)
	b = append(b, body...)
	return helpers.WriteAll(w, b)
}

// bindAddress keeps the configured port and swaps the host for the
// operator-set static address when one is active.
func bindAddress(listen string, st *settings.Settings) (string, error) {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "", errors.Annotatef(err, "httpd listen=%s", listen)
	}
	if st.Static {
		host = st.AddrString()
	}
	return net.JoinHostPort(host, port), nil
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// reformat well known errors for easier log reading
func netErrString(e error) string {
	estr := e.Error()
	if neterr, ok := e.(net.Error); ok && neterr.Timeout() {
		estr = "timeout"
	} else if strings.HasSuffix(estr, "i/o timeout") {
		estr = "timeout"
	} else if strings.HasSuffix(estr, "connection reset by peer") {
		estr = "closed by remote"
	}
	return estr
}
