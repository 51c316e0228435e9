package tele

import (
	"context"
	"fmt"
	"net/url"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/radmon/helpers"
	"github.com/temoto/radmon/log2"
)

type transportMqtt struct {
	log *log2.Log
	m   mqtt.Client

	networkTimeout time.Duration
	topicConnect   string
	topicState     string
	topicReading   string
	topicError     string
}

func (self *transportMqtt) Init(ctx context.Context, log *log2.Log, teleConfig Config) error {
	self.log = log.Clone(log2.LInfo)
	if teleConfig.MqttLogDebug {
		self.log.SetLevel(log2.LDebug)
	}
	mqtt.ERROR = pahoLog{self.log.Errorf}
	mqtt.CRITICAL = pahoLog{self.log.Errorf}
	mqtt.WARN = pahoLog{self.log.Infof}
	if teleConfig.MqttLogDebug {
		mqtt.DEBUG = pahoLog{self.log.Debugf}
	}

	if _, err := url.ParseRequestURI(teleConfig.MqttBroker); err != nil {
		return errors.Annotatef(err, "tele broker=%s", teleConfig.MqttBroker)
	}

	clientID := teleConfig.DeviceID
	credFun := func() (string, string) {
		return clientID, teleConfig.MqttPassword
	}
	topicPrefix := "radmon/" + teleConfig.DeviceID
	self.topicConnect = topicPrefix + "/c"
	self.topicState = topicPrefix + "/w/state"
	self.topicReading = topicPrefix + "/w/reading"
	self.topicError = topicPrefix + "/w/error"

	keepAlive := helpers.IntSecondDefault(teleConfig.KeepaliveSec, 60*time.Second)
	pingTimeout := helpers.IntSecondDefault(teleConfig.PingTimeoutSec, 30*time.Second)
	self.networkTimeout = helpers.IntSecondDefault(teleConfig.NetworkTimeoutSec, DefaultNetworkTimeout)
	storePath := teleConfig.MqttStorePath
	if storePath == "" {
		storePath = teleConfig.PersistPath + "-mqtt"
	}

	mopt := mqtt.NewClientOptions().
		AddBroker(teleConfig.MqttBroker).
		SetBinaryWill(self.topicConnect, []byte{0x00}, 1, true).
		SetCleanSession(false).
		SetClientID(clientID).
		SetCredentialsProvider(credFun).
		SetKeepAlive(keepAlive).
		SetPingTimeout(pingTimeout).
		SetOrderMatters(false).
		SetResumeSubs(true).
		SetStore(mqtt.NewFileStore(storePath)).
		SetConnectRetryInterval(keepAlive / 2).
		SetOnConnectHandler(self.onConnect).
		SetConnectionLostHandler(self.onConnectionLost).
		SetConnectRetry(true)
	self.m = mqtt.NewClient(mopt)
	if token := self.m.Connect(); token.Error() != nil {
		// network is allowed to be down at boot
		self.log.Errorf("tele connect err=%v", token.Error())
	}
	return nil
}

func (self *transportMqtt) CloseTele() {
	self.m.Disconnect(uint(self.networkTimeout / time.Millisecond))
}

func (self *transportMqtt) SendState(payload []byte) bool {
	self.log.Debugf("tele state payload=%s", payload)
	return self.waitSent(self.m.Publish(self.topicState, 1, true, payload))
}

func (self *transportMqtt) SendTelemetry(payload []byte) bool {
	return self.waitSent(self.m.Publish(self.topicReading, 1, false, payload))
}

func (self *transportMqtt) SendError(payload []byte) bool {
	return self.waitSent(self.m.Publish(self.topicError, 1, false, payload))
}

func (self *transportMqtt) waitSent(token mqtt.Token) bool {
	if !token.WaitTimeout(self.networkTimeout) {
		return false
	}
	if err := token.Error(); err != nil {
		self.log.Errorf("tele publish err=%v", err)
		return false
	}
	return true
}

func (self *transportMqtt) onConnect(c mqtt.Client) {
	self.log.Infof("tele mqtt connect")
	c.Publish(self.topicConnect, 1, true, []byte{0x01})
}

func (self *transportMqtt) onConnectionLost(c mqtt.Client, err error) {
	self.log.Infof("tele mqtt disconnect err=%v", err)
}

// adapts leveled log to paho logger interface
type pahoLog struct{ f log2.FmtFunc }

func (pl pahoLog) Println(v ...interface{})               { pl.f("%s", fmt.Sprintln(v...)) }
func (pl pahoLog) Printf(format string, v ...interface{}) { pl.f(format, v...) }
