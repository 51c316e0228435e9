// Package console is the operator surface on the local terminal: a
// modal settings menu driven by single-char commands. Input is pumped
// by the poll loop, the menu never blocks the appliance.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/temoto/radmon/internal/settings"
	"github.com/temoto/radmon/internal/state"
	"github.com/temoto/radmon/log2"
)

type mode uint8

const (
	modeIdle mode = iota
	modeMenu
	modeAddr
	modeSource
)

const menuText = `-- settings menu --
1  show settings
2  set address
3  set time server
4  toggle verbose echo
5  exit menu
6  save and restart`

type Console struct {
	// In/Out default to the process terminal, tests inject buffers.
	In  io.Reader
	Out io.Writer

	g     *state.Global
	log   *log2.Log
	lines <-chan string
	mode  mode
}

func (c *Console) Init(ctx context.Context) error {
	c.g = state.GetGlobal(ctx)
	c.log = c.g.Log
	if c.g.Config.Console.Disable {
		c.log.Debugf("console: disabled")
		return nil
	}
	if c.In == nil {
		c.In = os.Stdin
	}
	if c.Out == nil {
		c.Out = os.Stdout
	}
	ch := make(chan string, 16)
	c.lines = ch
	// reader is not alive-tracked, terminal read is not interruptible;
	// it parks on EOF and dies with the process
	go reader(c.In, ch)
	c.printf("console ready, press enter for menu")
	return nil
}

func reader(r io.Reader, ch chan<- string) {
	scan := bufio.NewScanner(r)
	for scan.Scan() {
		ch <- scan.Text()
	}
	close(ch)
}

// Poll applies any pending operator input. Returns true when the
// operator asked to save and restart.
func (c *Console) Poll(ctx context.Context) (restart bool) {
	if c.lines == nil {
		return false
	}
	for {
		select {
		case line, ok := <-c.lines:
			if !ok {
				c.lines = nil
				return restart
			}
			if c.handle(strings.TrimSpace(line)) {
				restart = true
			}
		default:
			return restart
		}
	}
}

func (c *Console) handle(line string) (restart bool) {
	switch c.mode {
	case modeIdle:
		c.mode = modeMenu
		c.printf("%s", menuText)

	case modeMenu:
		return c.command(line)

	case modeAddr:
		c.mode = modeMenu
		if err := c.g.Settings.SetAddrString(line); err != nil {
			c.printf("invalid: %v", err)
		} else {
			c.printf("address=%s (effective after save and restart)", c.g.Settings.AddrString())
		}

	case modeSource:
		c.mode = modeMenu
		if err := c.g.Settings.SetTimeSource(line); err != nil {
			c.printf("invalid: %v", err)
		} else {
			c.printf("time server=%s", c.g.Settings.TimeSource)
		}
	}
	return false
}

func (c *Console) command(line string) (restart bool) {
	if line == "" || line == "?" {
		c.printf("%s", menuText)
		return false
	}
	switch line[0] {
	case '1':
		c.printf("settings: %s", c.g.Settings.String())

	case '2':
		c.mode = modeAddr
		c.printf("address (blank = dynamic):")

	case '3':
		c.mode = modeSource
		c.printf("time server (blank = %s):", settings.DefaultTimeSource)

	case '4':
		c.g.Settings.Verbose = !c.g.Settings.Verbose
		c.g.Telemetry.Framer.SetEcho(c.g.Settings.Verbose)
		c.printf("verbose=%t", c.g.Settings.Verbose)

	case '5':
		c.mode = modeIdle
		c.printf("menu closed, changes not saved")

	case '6':
		if err := c.g.SettingsStore.Save(c.g.Settings); err != nil {
			c.g.Error(err)
			c.printf("save failed: %v", err)
			return false
		}
		c.printf("saved, restarting")
		return true

	default:
		c.printf("%s", menuText)
	}
	return false
}

func (c *Console) printf(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(c.Out, format+"\n", args...); err != nil {
		c.log.Errorf("console write err=%v", err)
	}
}
