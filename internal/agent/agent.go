// Package agent is the collector side of the appliance HTTP surface:
// fetch the delimited data line, decode it back into a Reading, ask
// for restart.
package agent

import (
	"context"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/radmon/internal/telemetry"
	"github.com/temoto/radmon/log2"
)

type Config struct {
	Addr    string // appliance host:port
	Timeout time.Duration
}

func (c *Config) normalize() {
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
}

type Client struct {
	log  *log2.Log
	conf Config
	hc   http.Client
}

func NewClient(conf Config, log *log2.Log) *Client {
	conf.normalize()
	c := &Client{log: log, conf: conf}
	c.hc.Timeout = conf.Timeout
	return c
}

// SetTransport injects the round tripper, tests use helpers.MockHTTP.
func (c *Client) SetTransport(rt http.RoundTripper) { c.hc.Transport = rt }

// Raw returns the data line as served, line end trimmed.
func (c *Client) Raw(ctx context.Context) (string, error) {
	s, err := c.get(ctx, "/rdata")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

func (c *Client) Fetch(ctx context.Context) (telemetry.Reading, error) {
	line, err := c.Raw(ctx)
	if err != nil {
		return telemetry.Reading{}, err
	}
	return ParseDataLine(line)
}

func (c *Client) Page(ctx context.Context) (string, error) {
	return c.get(ctx, "/")
}

func (c *Client) Reset(ctx context.Context) error {
	s, err := c.get(ctx, "/reset")
	if err != nil {
		return err
	}
	if strings.TrimSpace(s) != "ok" {
		return errors.Errorf("agent reset reply=%q", s)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+c.conf.Addr+path, nil)
	if err != nil {
		return "", errors.Trace(err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", errors.Annotatef(err, "agent get %s", path)
	}
	defer resp.Body.Close()
	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Annotatef(err, "agent read %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("agent get %s status=%s", path, resp.Status)
	}
	c.log.Debugf("agent get %s bytes=%d", path, len(b))
	return string(b), nil
}

// ParseDataLine is the inverse of the appliance data line renderer:
// strip the $, and ,# sentinels, split on commas, pair name=value.
// Field order is preserved.
func ParseDataLine(line string) (telemetry.Reading, error) {
	r := telemetry.Reading{}
	if !strings.HasPrefix(line, "$,") || !strings.HasSuffix(line, ",#") {
		return r, errors.NotValidf("data line framing %q", line)
	}
	body := line[2 : len(line)-2]
	if body == "" {
		return r, errors.NotValidf("data line empty %q", line)
	}
	for _, item := range strings.Split(body, ",") {
		eq := strings.IndexByte(item, '=')
		if eq <= 0 {
			return r, errors.NotValidf("data line item %q", item)
		}
		name, value := item[:eq], item[eq+1:]
		if name == "UTC" {
			if value == telemetry.ZeroStampText {
				// appliance has no reading yet
				continue
			}
			t, err := time.Parse(telemetry.StampLayout, value)
			if err != nil {
				return r, errors.NotValidf("data line stamp %q", value)
			}
			r.At = t
			continue
		}
		r.Fields = append(r.Fields, telemetry.Field{Name: name, Value: value})
	}
	return r, nil
}
