// Radiation monitor appliance: reads the Geiger counter over serial,
// serves readings over HTTP, keeps the clock via network time.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/temoto/radmon/internal/loop"
	"github.com/temoto/radmon/internal/state"
	"github.com/temoto/radmon/internal/tele"
	"github.com/temoto/radmon/log2"
)

// set by ldflags -X main.BuildVersion
var BuildVersion string = "unknown"

func main() {
	flagConfig := flag.String("config", "radmon.hcl", "")
	flagVersion := flag.Bool("version", false, "print build version and exit")
	flag.Parse()
	if *flagVersion {
		fmt.Printf("radmon %s\n", BuildVersion)
		return
	}

	log := log2.NewStderr(log2.LInfo)
	if sdnotify("start") {
		// under systemd assume journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(log2.LInteractiveFlags)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	// operator save, remote /reset and broken listener all speak
	// restart; everything is torn down and built again from config
	for {
		sig, err := run(log, sigs, *flagConfig)
		if err != nil {
			log.Fatal(errors.ErrorStack(err))
		}
		if sig != loop.SignalRestart {
			break
		}
		log.Infof("restarting")
	}
	log.Infof("stopped")
}

func run(log *log2.Log, sigs <-chan os.Signal, configPath string) (loop.Signal, error) {
	ctx, g := state.NewContext(log, tele.New())
	g.BuildVersion = BuildVersion
	defer g.Cleanup()

	config := state.MustReadConfig(log, state.NewOsFullReader(), configPath)
	g.MustInit(ctx, config)

	// watcher dies with the pass, signal channel survives restarts
	go func() {
		select {
		case s := <-sigs:
			g.Log.Infof("signal=%v", s)
			g.Alive.Stop()
		case <-g.Alive.StopChan():
		}
	}()

	l := &loop.Loop{}
	if err := l.Init(ctx); err != nil {
		return loop.SignalStop, errors.Annotate(err, "loop Init()")
	}
	sdnotify(daemon.SdNotifyReady)
	g.Log.Debugf("init complete")

	sig := l.Run(ctx)
	g.Alive.Stop()
	g.StopWait(5 * time.Second)
	return sig, nil
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sdnotify: %v\n", err)
		os.Exit(1)
	}
	return ok
}
