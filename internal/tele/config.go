package tele

type Config struct { //nolint:maligned
	Enable            bool   `hcl:"enable"`
	DeviceID          string `hcl:"device_id"`
	LogDebug          bool   `hcl:"log_debug"`
	KeepaliveSec      int    `hcl:"keepalive_sec"`
	PingTimeoutSec    int    `hcl:"ping_timeout_sec"`
	MqttBroker        string `hcl:"mqtt_broker"`
	MqttLogDebug      bool   `hcl:"mqtt_log_debug"`
	MqttPassword      string `hcl:"mqtt_password"` // secret
	MqttStorePath     string `hcl:"mqtt_store_path"`
	NetworkTimeoutSec int    `hcl:"network_timeout_sec"`

	PersistPath string `hcl:"-"` // queue location, derived from persist root
}
