// Operator REPL for a running appliance, the manual mode of the
// collector agent.
package main

import (
	"context"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/radmon/helpers/cli"
	"github.com/temoto/radmon/internal/agent"
	"github.com/temoto/radmon/log2"
)

const usage = `syntax: commands separated by whitespace
- rdata      fetch and decode the current reading
- raw        fetch the data line verbatim
- page       fetch the HTML page
- watch[=N]  poll rdata every 5s, N polls or forever
- reset      ask the appliance to restart
- sN         pause N milliseconds
`

var log = log2.NewStderr(log2.LDebug)

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagAddr := cmdline.String("addr", "127.0.0.1:8080", "appliance host:port")
	flagTimeout := cmdline.Duration("timeout", 5*time.Second, "")
	cmdline.Parse(os.Args[1:])

	log.SetFlags(log2.LInteractiveFlags)

	c := agent.NewClient(agent.Config{Addr: *flagAddr, Timeout: *flagTimeout}, log)
	ctx := context.Background()

	cli.MainLoop("radmon-cli", newExecutor(ctx, c), newCompleter())
}

func newCompleter() func(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		{Text: "rdata", Description: "fetch and decode the current reading"},
		{Text: "raw", Description: "fetch the data line verbatim"},
		{Text: "page", Description: "fetch the HTML page"},
		{Text: "watch", Description: "poll rdata every 5s"},
		{Text: "reset", Description: "ask the appliance to restart"},
		{Text: "help", Description: ""},
	}
	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterFuzzy(suggests, d.GetWordBeforeCursor(), true)
	}
}

func newExecutor(ctx context.Context, c *agent.Client) func(string) {
	return func(line string) {
		for _, word := range strings.Split(line, " ") {
			word = strings.TrimSpace(word)
			if word == "" {
				continue
			}
			if err := execWord(ctx, c, word); err != nil {
				log.Errorf(errors.ErrorStack(err))
			}
		}
	}
}

func execWord(ctx context.Context, c *agent.Client, word string) error {
	switch {
	case word == "help":
		log.Infof(usage)
	case word == "rdata":
		r, err := c.Fetch(ctx)
		if err != nil {
			return err
		}
		log.Infof("%s", r.String())
	case word == "raw":
		s, err := c.Raw(ctx)
		if err != nil {
			return err
		}
		log.Infof("%s", s)
	case word == "page":
		s, err := c.Page(ctx)
		if err != nil {
			return err
		}
		log.Infof("%s", s)
	case word == "reset":
		if err := c.Reset(ctx); err != nil {
			return err
		}
		log.Infof("restarting")
	case word == "watch" || strings.HasPrefix(word, "watch="):
		count := uint64(0)
		if eq := strings.IndexByte(word, '='); eq >= 0 {
			i, err := strconv.ParseUint(word[eq+1:], 10, 32)
			if err != nil {
				return errors.Annotatef(err, "word=%s", word)
			}
			count = i
		}
		watch(ctx, c, count)
	case word[0] == 's':
		i, err := strconv.ParseUint(word[1:], 10, 32)
		if err != nil {
			return errors.Annotatef(err, "word=%s", word)
		}
		time.Sleep(time.Duration(i) * time.Millisecond)
	default:
		return errors.Errorf("invalid command: '%s' try help", word)
	}
	return nil
}

func watch(ctx context.Context, c *agent.Client, count uint64) {
	// 5s matches the refresh period the appliance sends to browsers
	tick := time.NewTicker(5 * time.Second)
	defer tick.Stop()
	for i := uint64(0); count == 0 || i < count; i++ {
		if r, err := c.Fetch(ctx); err != nil {
			log.Errorf("watch: %v", err)
		} else {
			log.Infof("%s", r.String())
		}
		<-tick.C
	}
}
