// Package config loads endpoint and server configuration from a YAML file
// with environment overrides.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pion/webrtc/v4"
)

// Config stores every parameter of an endpoint or of the signaling server.
type Config struct {
	Env   string `yaml:"env" env:"ENV" env-default:"local"`
	Debug bool   `yaml:"debug" env:"DEBUG"`

	Identity  IdentityConfig  `yaml:"identity"`
	Signaling SignalingConfig `yaml:"signaling"`
	WebRTC    WebRTCConfig    `yaml:"webrtc"`
	Media     MediaConfig     `yaml:"media"`
	Recording RecordingConfig `yaml:"recording"`
	Server    ServerConfig    `yaml:"server"`
}

// IdentityConfig names the local user.
type IdentityConfig struct {
	ID   string `yaml:"id" env:"VOCA_USER_ID"`
	Name string `yaml:"name" env:"VOCA_USER_NAME"`
	// Role is passed as calleeRole in invites, e.g. "client" or "practitioner".
	Role string `yaml:"role" env:"VOCA_USER_ROLE"`
}

// SignalingConfig locates the hub.
type SignalingConfig struct {
	URL string `yaml:"url" env:"SIGNALING_URL"`
}

// ICEServer is one STUN or TURN entry.
type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

// WebRTCConfig holds the ICE server list and ICE agent timeouts.
type WebRTCConfig struct {
	ICEServers          []ICEServer   `yaml:"ice_servers"`
	DisconnectedTimeout time.Duration `yaml:"disconnected_timeout" env:"ICE_DISCONNECTED_TIMEOUT"`
	FailedTimeout       time.Duration `yaml:"failed_timeout" env:"ICE_FAILED_TIMEOUT"`
	KeepAliveInterval   time.Duration `yaml:"keepalive_interval" env:"ICE_KEEPALIVE_INTERVAL"`
}

// MediaConfig selects the capture source.
type MediaConfig struct {
	// Source is "device" or "silence".
	Source string `yaml:"source" env:"MEDIA_SOURCE"`
}

// RecordingConfig lists the artifact stores. Every configured store receives
// each artifact; none configured means artifacts are discarded.
type RecordingConfig struct {
	Dir      string         `yaml:"dir" env:"RECORDING_DIR"`
	Minio    MinioConfig    `yaml:"minio"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// MinioConfig points at an S3-compatible bucket.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
	Bucket    string `yaml:"bucket" env:"MINIO_BUCKET"`
	Secure    bool   `yaml:"secure" env:"MINIO_SECURE"`
}

// PostgresConfig points at the recording index database.
type PostgresConfig struct {
	DSN string `yaml:"dsn" env:"RECORDING_DSN"`
}

// ServerConfig configures the signaling hub.
type ServerConfig struct {
	Listen      string      `yaml:"listen" env:"SIGNALD_LISTEN"`
	Path        string      `yaml:"path"`
	MetricsPath string      `yaml:"metrics_path"`
	MaxConns    int         `yaml:"max_conns" env:"SIGNALD_MAX_CONNS"`
	Redis       RedisConfig `yaml:"redis"`
}

// RedisConfig enables multi-node fan-out when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// Media sources.
const (
	SourceDevice  = "device"
	SourceSilence = "silence"
)

// Load reads path, applies environment overrides and fills defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv builds a config from environment variables and defaults only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("cannot read environment: %w", err)
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad loads the file named by -config or CONFIG_PATH, falling back to
// the environment alone when neither is set. It panics on error.
func MustLoad() *Config {
	var (
		cfg *Config
		err error
	)
	if path := fetchConfigPath(); path != "" {
		cfg, err = Load(path)
	} else {
		cfg, err = FromEnv()
	}
	if err != nil {
		panic(err)
	}
	return cfg
}

// Path returns the config path given by -config or CONFIG_PATH.
func Path() string { return fetchConfigPath() }

func fetchConfigPath() string {
	var res string
	if f := flag.Lookup("config"); f != nil {
		res = f.Value.String()
	}
	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}
	return res
}

func (c *Config) setDefaults() {
	if len(c.WebRTC.ICEServers) == 0 {
		c.WebRTC.ICEServers = []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	if c.WebRTC.DisconnectedTimeout == 0 {
		c.WebRTC.DisconnectedTimeout = 5 * time.Second
	}
	if c.WebRTC.FailedTimeout == 0 {
		c.WebRTC.FailedTimeout = 25 * time.Second
	}
	if c.WebRTC.KeepAliveInterval == 0 {
		c.WebRTC.KeepAliveInterval = 2 * time.Second
	}
	if c.Media.Source == "" {
		c.Media.Source = SourceDevice
	}
	if c.Identity.Name == "" {
		c.Identity.Name = c.Identity.ID
	}
	if c.Signaling.URL == "" {
		c.Signaling.URL = "ws://localhost:8080/ws"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.Path == "" {
		c.Server.Path = "/ws"
	}
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = "/metrics"
	}
	if c.Server.MaxConns == 0 {
		c.Server.MaxConns = 1000
	}
}

func (c *Config) validate() error {
	var errs []error
	switch c.Media.Source {
	case SourceDevice, SourceSilence:
	default:
		errs = append(errs, fmt.Errorf("media.source: unknown source %q", c.Media.Source))
	}
	if c.WebRTC.FailedTimeout < c.WebRTC.DisconnectedTimeout {
		errs = append(errs, errors.New("webrtc.failed_timeout must not be shorter than disconnected_timeout"))
	}
	for i, s := range c.WebRTC.ICEServers {
		if len(s.URLs) == 0 {
			errs = append(errs, fmt.Errorf("webrtc.ice_servers[%d]: no urls", i))
		}
	}
	if m := c.Recording.Minio; m.Endpoint != "" && m.Bucket == "" {
		errs = append(errs, errors.New("recording.minio.bucket is required with an endpoint"))
	}
	return errors.Join(errs...)
}

// PionICEServers converts the ICE server list for pion.
func (w WebRTCConfig) PionICEServers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(w.ICEServers))
	for _, s := range w.ICEServers {
		srv := webrtc.ICEServer{URLs: append([]string(nil), s.URLs...)}
		if s.Username != "" {
			srv.Username = s.Username
			srv.Credential = s.Credential
			srv.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, srv)
	}
	return out
}
