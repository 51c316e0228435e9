package tele

import (
	"context"
	"encoding/json"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/radmon/helpers"
	"github.com/temoto/radmon/internal/telemetry"
	"github.com/temoto/radmon/log2"
	"github.com/temoto/spq"
)

const DefaultNetworkTimeout = 30 * time.Second

const logMsgDisabled = "tele disabled"

// denote value type in persistent queue bytes form
const (
	qReading byte = 1
	qError   byte = 2
)

type tele struct {
	config    Config
	log       *log2.Log
	transport Transporter
	q         *spq.Queue
	alive     *alive.Alive
	current   State
}

func New() Teler { return &tele{} }

// NewWithTransporter is a test constructor.
func NewWithTransporter(trans Transporter) Teler { return &tele{transport: trans} }

func (self *tele) Init(ctx context.Context, log *log2.Log, teleConfig Config) error {
	self.config = teleConfig
	self.log = log
	if self.config.LogDebug {
		self.log.SetLevel(log2.LDebug)
	}
	if !self.config.Enable {
		self.log.Debugf(logMsgDisabled)
		return nil
	}
	if self.config.DeviceID == "" {
		self.config.DeviceID = "radmon"
	}
	self.alive = alive.NewAlive()

	if self.transport == nil { // production path
		self.transport = &transportMqtt{}
	}
	if err := self.transport.Init(ctx, self.log, self.config); err != nil {
		return errors.Annotate(err, "tele transport")
	}

	if self.config.PersistPath == "" {
		panic("code error must set tele config.PersistPath")
	}
	var err error
	self.q, err = spq.Open(self.config.PersistPath)
	if err != nil {
		return errors.Annotate(err, "tele queue")
	}

	if !self.alive.Add(1) {
		panic("code error tele alive")
	}
	go self.qworker()
	self.State(StateBoot)

	return nil
}

func (self *tele) Close() {
	if !self.config.Enable {
		return
	}
	self.alive.Stop()
	if self.q != nil {
		self.q.Close()
	}
	self.transport.CloseTele()
	self.alive.Wait()
}

// Reading queues one accepted measurement for at-least-once delivery.
func (self *tele) Reading(r telemetry.Reading) {
	if !self.config.Enable {
		return
	}
	p := readingPayload{
		Time:   r.At.Unix(),
		Stamp:  r.StampText(),
		Fields: make([]fieldPayload, 0, len(r.Fields)),
	}
	for _, f := range r.Fields {
		p.Fields = append(p.Fields, fieldPayload{Name: f.Name, Value: f.Value})
	}
	if err := self.qpush(qReading, &p); err != nil {
		self.log.Errorf("CRITICAL tele reading=%s err=%v", r.String(), err)
	}
}

func (self *tele) Error(e error) {
	if !self.config.Enable || e == nil {
		return
	}
	p := errorPayload{Time: time.Now().Unix(), Error: e.Error()}
	if err := self.qpush(qError, &p); err != nil {
		self.log.Errorf("CRITICAL tele error=%v err=%v", e, err)
	}
}

// State publishes best-effort, only on change, never queued.
func (self *tele) State(s State) {
	if !self.config.Enable {
		return
	}
	if self.current == s {
		return
	}
	self.current = s
	p := statePayload{Time: time.Now().Unix(), State: s.String()}
	payload, err := json.Marshal(&p)
	if err != nil {
		self.log.Errorf("CRITICAL tele state=%s err=%v", s.String(), err)
		return
	}
	self.transport.SendState(payload)
}

type readingPayload struct {
	Time   int64          `json:"time"`
	Stamp  string         `json:"stamp"`
	Fields []fieldPayload `json:"fields"`
}

type fieldPayload struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type statePayload struct {
	Time  int64  `json:"time"`
	State string `json:"state"`
}

type errorPayload struct {
	Time  int64  `json:"time"`
	Error string `json:"error"`
}

func (self *tele) qpush(tag byte, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return errors.Trace(err)
	}
	buf := make([]byte, 0, 1+len(body))
	buf = append(buf, tag)
	buf = append(buf, body...)
	return errors.Trace(self.q.Push(buf))
}

func (self *tele) qworker() {
	defer self.alive.Done()
	bo := helpers.Backoff{Min: 1 * time.Second, Max: 5 * time.Minute, K: 2}
	for {
		box, err := self.q.Peek()
		switch err {
		case nil:
			b := box.Bytes()
			sent, herr := self.qhandle(b)
			if herr != nil {
				self.log.Errorf("tele qhandle b=%x err=%v", b, herr)
			}
			if sent {
				if err = self.q.Delete(box); err != nil {
					self.log.Errorf("tele queue delete b=%x err=%v", b, err)
				}
				bo.Reset()
			} else {
				if err = self.q.DeletePush(box); err != nil {
					self.log.Errorf("tele queue repush b=%x err=%v", b, err)
				}
				if delay := bo.DelayAfter(false); delay > 0 {
					select {
					case <-self.alive.StopChan():
					case <-time.After(delay):
					}
				}
			}

		case spq.ErrClosed:
			if self.alive.IsRunning() {
				self.log.Errorf("CRITICAL tele queue closed unexpectedly")
			}
			return

		default:
			// yet unhandled shit like disk full
			self.log.Errorf("CRITICAL tele queue err=%v", err)
			select {
			case <-self.alive.StopChan():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// qhandle returns del=true when the message must leave the queue.
func (self *tele) qhandle(b []byte) (bool, error) {
	if len(b) == 0 {
		self.log.Errorf("tele queue peek=empty")
		return true, nil
	}
	switch b[0] {
	case qReading:
		return self.transport.SendTelemetry(b[1:]), nil
	case qError:
		return self.transport.SendError(b[1:]), nil
	default:
		return true, errors.Errorf("tele queue unknown kind=%d", b[0])
	}
}
