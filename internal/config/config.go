package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models thermoline.yml.
type Config struct {
	Env string `yaml:"env"`

	HTTP struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"http"`

	Auth struct {
		JWTSecret              string `yaml:"jwt_secret"`
		CronKey                string `yaml:"cron_key"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`

	Incidents struct {
		SensorLostTimeoutMinutes int `yaml:"sensor_lost_timeout_minutes"`
	} `yaml:"incidents"`

	Sweeps struct {
		MonitorStatuses string `yaml:"monitor_statuses"`
		LostSensors     string `yaml:"lost_sensors"`
		Escalations     string `yaml:"escalations"`
	} `yaml:"sweeps"`

	Mail struct {
		Enabled bool   `yaml:"enabled"`
		APIURL  string `yaml:"api_url"`
		APIKey  string `yaml:"api_key"`
		Domain  string `yaml:"domain"`
		Sender  string `yaml:"sender"`
	} `yaml:"mail"`

	Lookup struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"lookup"`

	MQTT struct {
		Enabled  bool   `yaml:"enabled"`
		Broker   string `yaml:"broker"`
		ClientID string `yaml:"client_id"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Topic    string `yaml:"topic"`
		QoS      int    `yaml:"qos"`
	} `yaml:"mqtt"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// TestEnv reports whether destructive administrative operations
// (monitor/incident deletion, permanent thermometer removal) are allowed.
func (c *Config) TestEnv() bool {
	return c.Env == "TEST"
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Incidents.SensorLostTimeoutMinutes <= 0 {
		return fmt.Errorf("config.incidents.sensor_lost_timeout_minutes must be positive")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("config.http.addr is required")
	}
	if c.Mail.Enabled {
		if c.Mail.APIURL == "" || c.Mail.Domain == "" || c.Mail.Sender == "" {
			return fmt.Errorf("config.mail requires api_url, domain and sender when enabled")
		}
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" || c.MQTT.Topic == "" {
			return fmt.Errorf("config.mqtt requires broker and topic when enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("config.mqtt.qos must be 0, 1 or 2")
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "thermoline.yml")
}

// Load reads and validates config from workspace. Missing file yields the
// defaults so a bare workspace still serves.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Fields not
// present keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.BasePath = "/v1"
	cfg.Incidents.SensorLostTimeoutMinutes = 60
	cfg.Sweeps.MonitorStatuses = "* * * * *"
	cfg.Sweeps.LostSensors = "*/5 * * * *"
	cfg.Sweeps.Escalations = "* * * * *"
	cfg.MQTT.Topic = "thermoline/readings"
	cfg.MQTT.QoS = 1
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return &cfg
}

// GenerateDefault returns default config YAML for `tml config init`.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `env: ""

http:
  addr: ":8080"
  base_path: /v1

auth:
  jwt_secret: ""
  cron_key: ""
  allow_legacy_actor_header: false

incidents:
  sensor_lost_timeout_minutes: 60

sweeps:
  monitor_statuses: "* * * * *"
  lost_sensors: "*/5 * * * *"
  escalations: "* * * * *"

mail:
  enabled: false
  api_url: https://api.mailgun.net/v3
  api_key: ""
  domain: ""
  sender: ""

lookup:
  base_url: ""
  api_key: ""

mqtt:
  enabled: false
  broker: tcp://localhost:1883
  client_id: thermoline
  username: ""
  password: ""
  topic: thermoline/readings
  qos: 1

log:
  level: info
  format: json
`
