// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config reads the TOML configuration shared by the agentboard daemons and builds the configured components.
package config

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"

	"github.com/agentboard/agentboard-go/pkg/board"
	"github.com/agentboard/agentboard-go/pkg/transport"
)

// Duration is a time.Duration written as a string in the configuration, e.g., "500ms".
type Duration time.Duration

// Duration returns the time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// MarshalText writes the Duration's string representation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText parses a Duration from strings like "2s" or "1m30s".
func (d *Duration) UnmarshalText(text []byte) error {
	if dur, err := time.ParseDuration(string(text)); err != nil {
		return err
	} else {
		*d = Duration(dur)
		return nil
	}
}

// Config describes the whole TOML configuration.
type Config struct {
	Agent      AgentConf
	Logging    LogConf
	Debug      DebugConf
	Discovery  DiscoveryConf
	Transport  TransportConf
	Messenger  MessengerConf
	Registry   RegistryConf
	Dispatcher DispatcherConf
	API        APIConf `toml:"api"`
	Board      BoardConf
}

// AgentConf identifies this process on the board.
type AgentConf struct {
	ID string `toml:"id"`
}

// LogConf describes the Logging-configuration block.
type LogConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// DebugConf enables CPU profiling into the working directory.
type DebugConf struct {
	Profile bool
}

// DiscoveryConf describes the LAN discovery, used by announcing boards and by socket adapters without an URL.
type DiscoveryConf struct {
	IPv4     bool
	IPv6     bool
	Interval Duration
}

// TransportConf lists the adapters in their priority order.
type TransportConf struct {
	ProbeTimeout       Duration      `toml:"probe-timeout"`
	AckTimeout         Duration      `toml:"ack-timeout"`
	RecoverInterval    Duration      `toml:"recover-interval"`
	RecoverMaxInterval Duration      `toml:"recover-max-interval"`
	Adapters           []AdapterConf `toml:"adapter"`
}

// AdapterConf describes one [[transport.adapter]] entry.
type AdapterConf struct {
	Kind         string
	URL          string `toml:"url"`
	Path         string
	APIKey       string   `toml:"api-key"`
	PollInterval Duration `toml:"poll-interval"`
	Batch        int
	MaxFailures  int `toml:"max-failures"`
	Discover     bool

	// PruneAfter removes older Envelopes from a durable store's mailbox.
	PruneAfter Duration `toml:"prune-after"`
}

// MessengerConf describes the Messenger-configuration block.
type MessengerConf struct {
	HistoryDepth int `toml:"history-depth"`
	DedupWindow  int `toml:"dedup-window"`
	SendQueue    int `toml:"send-queue"`
}

// RegistryConf describes where manifests are loaded from.
type RegistryConf struct {
	Dir             string
	Watch           bool
	Debounce        Duration
	RefreshInterval Duration `toml:"refresh-interval"`
	Exclude         []string
}

// DispatcherConf describes the Dispatcher-configuration block.
type DispatcherConf struct {
	ReplyTopic       string   `toml:"reply-topic"`
	InboxTopic       string   `toml:"inbox-topic"`
	Timeout          Duration `toml:"timeout"`
	RetryLimit       int      `toml:"retry-limit"`
	SweepInterval    Duration `toml:"sweep-interval"`
	GracePeriod      Duration `toml:"grace-period"`
	Ranker           string
	RefreshOnMiss    bool     `toml:"refresh-on-miss"`
	Journal          string   `toml:"journal"`
	JournalRetention Duration `toml:"journal-retention"`
}

// APIConf describes the REST API.
type APIConf struct {
	Listen string
}

// BoardConf describes the board server.
type BoardConf struct {
	Listen       string
	Path         string
	Node         string
	HistoryDepth int `toml:"history-depth"`
	ReplayLimit  int `toml:"replay-limit"`
	OutboxSize   int `toml:"outbox-size"`
	Store        string
	Announce     bool

	// Retention removes older Envelopes from a persistent Store; zero keeps them until trimmed.
	Retention Duration
}

// Default returns a Config carrying every default value. Loading a file only overwrites the values it names.
func Default() Config {
	return Config{
		Logging: LogConf{
			Level:  "info",
			Format: "text",
		},
		Discovery: DiscoveryConf{
			IPv4:     true,
			Interval: Duration(10 * time.Second),
		},
		Transport: TransportConf{
			ProbeTimeout:       Duration(2 * time.Second),
			AckTimeout:         Duration(5 * time.Second),
			RecoverInterval:    Duration(transport.DefaultRecoverInterval),
			RecoverMaxInterval: Duration(transport.DefaultRecoverMaxInterval),
		},
		Messenger: MessengerConf{
			HistoryDepth: 10,
			DedupWindow:  1024,
			SendQueue:    256,
		},
		Registry: RegistryConf{
			Debounce: Duration(250 * time.Millisecond),
		},
		Dispatcher: DispatcherConf{
			Timeout:          Duration(30 * time.Second),
			RetryLimit:       2,
			SweepInterval:    Duration(time.Second),
			GracePeriod:      Duration(5 * time.Minute),
			JournalRetention: Duration(7 * 24 * time.Hour),
		},
		Board: BoardConf{
			Path:         "/ws",
			HistoryDepth: 100,
			ReplayLimit:  10,
			OutboxSize:   board.DefaultOptions.OutboxSize,
		},
	}
}

// DefaultPollInterval is used for poll-based adapters without a poll-interval.
const DefaultPollInterval = 500 * time.Millisecond

// Parse a TOML configuration on top of the defaults.
func Parse(data string) (conf Config, err error) {
	conf = Default()

	md, err := toml.Decode(data, &conf)
	if err != nil {
		return
	}

	conf.normalize()
	warnUndecoded(md)
	return
}

// Load a TOML configuration file on top of the defaults.
func Load(filename string) (conf Config, err error) {
	conf = Default()

	md, err := toml.DecodeFile(filename, &conf)
	if err != nil {
		return
	}

	conf.normalize()
	warnUndecoded(md)
	return
}

func (conf *Config) normalize() {
	conf.Agent.ID = strings.TrimSpace(conf.Agent.ID)
	for i := range conf.Transport.Adapters {
		ac := &conf.Transport.Adapters[i]
		ac.Kind = strings.ToLower(strings.TrimSpace(ac.Kind))
		if ac.PollInterval <= 0 {
			ac.PollInterval = Duration(DefaultPollInterval)
		}
	}
}

func warnUndecoded(md toml.MetaData) {
	for _, key := range md.Undecoded() {
		log.WithField("key", key.String()).Warn("Unknown configuration key, ignoring it")
	}
}
