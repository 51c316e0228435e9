package telemetry

import (
	"time"

	"github.com/juju/errors"
	"github.com/temoto/radmon/log2"
	"go.bug.st/serial"
)

type PortConfig struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
	// DrainLimit bounds reads per Drain call to keep the control loop fair.
	DrainLimit int
}

func (c *PortConfig) normalize() {
	if c.Baud == 0 {
		c.Baud = 9600
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 50 * time.Millisecond
	}
	if c.DrainLimit == 0 {
		c.DrainLimit = 4
	}
}

// Port owns the instrument serial link.
type Port struct {
	log  *log2.Log
	conf PortConfig
	p    serial.Port
	buf  [128]byte
}

func OpenPort(conf PortConfig, log *log2.Log) (*Port, error) {
	conf.normalize()
	mode := &serial.Mode{BaudRate: conf.Baud}
	p, err := serial.Open(conf.Device, mode)
	if err != nil {
		if ports, e2 := serial.GetPortsList(); e2 == nil {
			log.Infof("serial ports available=%v", ports)
		}
		return nil, errors.Annotatef(err, "serial open device=%s", conf.Device)
	}
	if err = p.SetReadTimeout(conf.ReadTimeout); err != nil {
		_ = p.Close()
		return nil, errors.Annotatef(err, "serial timeout device=%s", conf.Device)
	}
	log.Debugf("serial open device=%s baud=%d", conf.Device, conf.Baud)
	return &Port{log: log, conf: conf, p: p}, nil
}

// Drain moves pending bytes into the framer. Returns after the read
// timeout when the instrument is quiet.
func (p *Port) Drain(f *Framer) error {
	for i := 0; i < p.conf.DrainLimit; i++ {
		n, err := p.p.Read(p.buf[:])
		if err != nil {
			return errors.Annotatef(err, "serial read device=%s", p.conf.Device)
		}
		if n == 0 {
			return nil
		}
		f.FeedBytes(p.buf[:n])
		if n < len(p.buf) {
			return nil
		}
	}
	return nil
}

func (p *Port) Close() error {
	if p == nil || p.p == nil {
		return nil
	}
	return errors.Trace(p.p.Close())
}
