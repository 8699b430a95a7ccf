package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds every tunable of a streaming host or reader.
// Load fills it from defaults, then an optional TOML file, then env vars.
type Config struct {
	// Streaming endpoint.
	Address     string // host readers connect to
	BindAddress string // interface the host binds, "*" for all
	DataPort    int
	// HeartbeatPort defaults to DataPort+1 when zero.
	HeartbeatPort int
	PortRetries   int
	PortStep      int
	Revision      string // legacy|stream
	PollTimeout   time.Duration

	// Registry liveness.
	TickInterval  time.Duration
	AliveTimeout  time.Duration
	RemoveTimeout time.Duration
	EvictDead     bool
	MailboxSize   int

	// Heartbeat client.
	Application       string
	HeartbeatInterval time.Duration
	ReconnectAfter    time.Duration

	// Reader channel selection; empty means derive from the first data block.
	Channels []int

	// Synthetic source used by cmd/streamer.
	NumChannels int
	BlockSize   int
	SampleRate  float64

	MetricsAddr string
	RedisAddr   string
	RedisStream string
	MDNS        bool
	MDNSService string
}

type fileConfig struct {
	Stream struct {
		Address       string `toml:"address"`
		BindAddress   string `toml:"bind_address"`
		DataPort      int    `toml:"data_port"`
		HeartbeatPort int    `toml:"heartbeat_port"`
		PortRetries   int    `toml:"port_retries"`
		PortStep      int    `toml:"port_step"`
		Revision      string `toml:"revision"`
		PollTimeout   string `toml:"poll_timeout"`
		Channels      []int  `toml:"channels"`
	} `toml:"stream"`
	Registry struct {
		Tick          string `toml:"tick"`
		AliveTimeout  string `toml:"alive_timeout"`
		RemoveTimeout string `toml:"remove_timeout"`
		EvictDead     *bool  `toml:"evict_dead"`
		MailboxSize   int    `toml:"mailbox_size"`
	} `toml:"registry"`
	Heartbeat struct {
		Application    string `toml:"application"`
		Interval       string `toml:"interval"`
		ReconnectAfter string `toml:"reconnect_after"`
	} `toml:"heartbeat"`
	Source struct {
		NumChannels int     `toml:"num_channels"`
		BlockSize   int     `toml:"block_size"`
		SampleRate  float64 `toml:"sample_rate"`
	} `toml:"source"`
	Observe struct {
		MetricsAddr *string `toml:"metrics_addr"`
		RedisAddr   string  `toml:"redis_addr"`
		RedisStream string  `toml:"redis_stream"`
		MDNS        *bool   `toml:"mdns"`
		MDNSService string  `toml:"mdns_service"`
	} `toml:"observe"`
}

func Default() *Config {
	return &Config{
		Address:           "localhost",
		BindAddress:       "*",
		DataPort:          5556,
		PortRetries:       5,
		PortStep:          2,
		Revision:          "stream",
		PollTimeout:       100 * time.Millisecond,
		TickInterval:      500 * time.Millisecond,
		AliveTimeout:      5 * time.Second,
		RemoveTimeout:     30 * time.Second,
		MailboxSize:       64,
		Application:       "neurostream-reader",
		HeartbeatInterval: 2 * time.Second,
		ReconnectAfter:    10 * time.Second,
		NumChannels:       8,
		BlockSize:         1024,
		SampleRate:        30000,
		MetricsAddr:       ":9095",
		RedisStream:       "neurostream:registry",
		MDNSService:       "_neurostream._tcp",
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load builds the configuration: defaults, then the TOML file named by
// NEURO_CONFIG (if any), then NEURO_* environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("NEURO_CONFIG"); path != "" {
		if err := cfg.MergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MergeFile overlays the non-empty values of a TOML file.
func (c *Config) MergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return c.MergeTOML(raw)
}

func (c *Config) MergeTOML(raw []byte) error {
	var f fileConfig
	if err := toml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	setString(&c.Address, f.Stream.Address)
	setString(&c.BindAddress, f.Stream.BindAddress)
	setInt(&c.DataPort, f.Stream.DataPort)
	setInt(&c.HeartbeatPort, f.Stream.HeartbeatPort)
	setInt(&c.PortRetries, f.Stream.PortRetries)
	setInt(&c.PortStep, f.Stream.PortStep)
	setString(&c.Revision, f.Stream.Revision)
	if len(f.Stream.Channels) > 0 {
		c.Channels = append([]int(nil), f.Stream.Channels...)
	}
	setInt(&c.MailboxSize, f.Registry.MailboxSize)
	if f.Registry.EvictDead != nil {
		c.EvictDead = *f.Registry.EvictDead
	}
	setString(&c.Application, f.Heartbeat.Application)
	setInt(&c.NumChannels, f.Source.NumChannels)
	setInt(&c.BlockSize, f.Source.BlockSize)
	if f.Source.SampleRate > 0 {
		c.SampleRate = f.Source.SampleRate
	}
	if f.Observe.MetricsAddr != nil {
		c.MetricsAddr = *f.Observe.MetricsAddr
	}
	setString(&c.RedisAddr, f.Observe.RedisAddr)
	setString(&c.RedisStream, f.Observe.RedisStream)
	if f.Observe.MDNS != nil {
		c.MDNS = *f.Observe.MDNS
	}
	setString(&c.MDNSService, f.Observe.MDNSService)

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"stream.poll_timeout", f.Stream.PollTimeout, &c.PollTimeout},
		{"registry.tick", f.Registry.Tick, &c.TickInterval},
		{"registry.alive_timeout", f.Registry.AliveTimeout, &c.AliveTimeout},
		{"registry.remove_timeout", f.Registry.RemoveTimeout, &c.RemoveTimeout},
		{"heartbeat.interval", f.Heartbeat.Interval, &c.HeartbeatInterval},
		{"heartbeat.reconnect_after", f.Heartbeat.ReconnectAfter, &c.ReconnectAfter},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Address = getEnv("NEURO_ADDRESS", c.Address)
	c.BindAddress = getEnv("NEURO_BIND_ADDRESS", c.BindAddress)
	c.Revision = getEnv("NEURO_REVISION", c.Revision)
	c.Application = getEnv("NEURO_APPLICATION", c.Application)
	c.MetricsAddr = getEnv("NEURO_METRICS_ADDR", c.MetricsAddr)
	c.RedisAddr = getEnv("NEURO_REDIS_ADDR", c.RedisAddr)
	c.RedisStream = getEnv("NEURO_REDIS_STREAM", c.RedisStream)

	ints := map[string]*int{
		"NEURO_DATA_PORT":      &c.DataPort,
		"NEURO_HEARTBEAT_PORT": &c.HeartbeatPort,
		"NEURO_MAILBOX_SIZE":   &c.MailboxSize,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}
	durations := map[string]*time.Duration{
		"NEURO_POLL_TIMEOUT":       &c.PollTimeout,
		"NEURO_TICK_INTERVAL":      &c.TickInterval,
		"NEURO_ALIVE_TIMEOUT":      &c.AliveTimeout,
		"NEURO_REMOVE_TIMEOUT":     &c.RemoveTimeout,
		"NEURO_HEARTBEAT_INTERVAL": &c.HeartbeatInterval,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	if v := os.Getenv("NEURO_EVICT_DEAD"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("NEURO_EVICT_DEAD: %w", err)
		}
		c.EvictDead = b
	}
	if v := os.Getenv("NEURO_CHANNELS"); v != "" {
		chs, err := ParseChannels(v)
		if err != nil {
			return fmt.Errorf("NEURO_CHANNELS: %w", err)
		}
		c.Channels = chs
	}
	return nil
}

// ParseChannels reads a comma separated channel list such as "0,1,4".
func ParseChannels(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid channel %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}

// HeartbeatPortOrDefault returns the request/reply port.
func (c *Config) HeartbeatPortOrDefault() int {
	if c.HeartbeatPort > 0 {
		return c.HeartbeatPort
	}
	return c.DataPort + 1
}

func (c *Config) Validate() error {
	var errs []error
	if c.DataPort <= 0 || c.DataPort > 65535 {
		errs = append(errs, fmt.Errorf("data port %d out of range", c.DataPort))
	}
	if c.HeartbeatPort < 0 || c.HeartbeatPort > 65535 {
		errs = append(errs, fmt.Errorf("heartbeat port %d out of range", c.HeartbeatPort))
	}
	switch c.Revision {
	case "legacy", "stream":
	default:
		errs = append(errs, fmt.Errorf("unknown revision %q", c.Revision))
	}
	if c.PollTimeout <= 0 {
		errs = append(errs, errors.New("poll timeout must be positive"))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, errors.New("tick interval must be positive"))
	}
	if c.AliveTimeout <= 0 {
		errs = append(errs, errors.New("alive timeout must be positive"))
	}
	if c.EvictDead && c.RemoveTimeout < c.AliveTimeout {
		errs = append(errs, errors.New("remove timeout must not be shorter than alive timeout"))
	}
	if c.MailboxSize <= 0 {
		errs = append(errs, errors.New("mailbox size must be positive"))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("heartbeat interval must be positive"))
	}
	return errors.Join(errs...)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
