// Package sntp aligns the corrected clock with a network time source.
// Fixed-format datagram exchange, no drift discipline: the reply is
// decoded once and the clock steps to it.
package sntp

import (
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/radmon/helpers"
	"github.com/temoto/radmon/internal/clock"
	"github.com/temoto/radmon/log2"
)

const (
	packetSize    = 48
	secondsOffset = 40 // transmit timestamp, integer part
	// seconds between 1900-01-01 and the Unix epoch
	eraOffset = 2208988800
)

type Config struct {
	Port         int
	Attempts     int
	ReplyTimeout time.Duration
	RetryDelay   time.Duration
	Interval     time.Duration
}

func (c *Config) normalize() {
	if c.Port == 0 {
		c.Port = 123
	}
	if c.Attempts == 0 {
		c.Attempts = 3
	}
	if c.ReplyTimeout == 0 {
		c.ReplyTimeout = 2 * time.Second
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 1 * time.Second
	}
	if c.Interval == 0 {
		c.Interval = 12 * time.Hour
	}
}

// State is sync schedule bookkeeping, owned by the control loop.
type State struct {
	Due     time.Time
	LastTry time.Time
	LastErr error
}

// IsDue reports whether a sync attempt should start now.
// Zero Due means never synced, due immediately.
func (s *State) IsDue(now time.Time) bool {
	return s.Due.IsZero() || !now.Before(s.Due)
}

// Advance schedules the next attempt. Called after every completed
// attempt cycle, success or exhaustion.
func (s *State) Advance(now time.Time, interval time.Duration) {
	s.LastTry = now
	s.Due = now.Add(interval)
}

type Client struct {
	log  *log2.Log
	clk  *clock.Clock
	conf Config
}

func NewClient(conf Config, clk *clock.Clock, log *log2.Log) *Client {
	conf.normalize()
	return &Client{log: log, clk: clk, conf: conf}
}

func (c *Client) Interval() time.Duration { return c.conf.Interval }

// Synchronize runs one complete attempt cycle against source.
// On exhaustion the clock is left unchanged, caller advances the
// schedule regardless of outcome.
func (c *Client) Synchronize(ctx context.Context, source string) error {
	addr := net.JoinHostPort(source, strconv.Itoa(c.conf.Port))
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return errors.Annotatef(err, "sntp dial source=%s", source)
	}
	defer conn.Close()

	var lastErr error
	for attempt := 1; attempt <= c.conf.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.conf.RetryDelay):
			}
		}
		t, err := c.exchange(conn)
		if err != nil {
			lastErr = err
			c.log.Debugf("sntp attempt=%d/%d source=%s err=%v", attempt, c.conf.Attempts, source, err)
			continue
		}
		before := c.clk.Now()
		c.clk.Set(t)
		c.log.Infof("sntp time=%s step=%v source=%s", t.Format(time.RFC3339), t.Sub(before), source)
		return nil
	}
	return errors.Annotatef(lastErr, "sntp exhausted attempts=%d source=%s", c.conf.Attempts, source)
}

func (c *Client) exchange(conn net.Conn) (time.Time, error) {
	var req [packetSize]byte
	req[0] = 0xe3 // LI=unsync VN=4 mode=client
	if err := helpers.WriteAll(conn, req[:]); err != nil {
		return time.Time{}, errors.Trace(err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(c.conf.ReplyTimeout)); err != nil {
		return time.Time{}, errors.Trace(err)
	}
	var resp [packetSize]byte
	n, err := conn.Read(resp[:])
	if err != nil {
		return time.Time{}, errors.Trace(err)
	}
	return decode(resp[:n])
}

func decode(b []byte) (time.Time, error) {
	if len(b) < packetSize {
		return time.Time{}, errors.Errorf("sntp short reply len=%d", len(b))
	}
	secs := binary.BigEndian.Uint32(b[secondsOffset : secondsOffset+4])
	if secs <= eraOffset {
		return time.Time{}, errors.Errorf("sntp bogus seconds=%d", secs)
	}
	return time.Unix(int64(secs)-eraOffset, 0).UTC(), nil
}
