// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/agentboard/agentboard-go/pkg/dispatch"
	"github.com/agentboard/agentboard-go/pkg/transport"
)

const orchestratorToml = `
[agent]
id = "orchestrator"

[logging]
level = "debug"
format = "json"

[transport]
probe-timeout = "500ms"

[[transport.adapter]]
kind = "socket"
url = "ws://localhost:35039/ws"

[[transport.adapter]]
kind = "memory"
url = "http://localhost:8765"
api-key = "secret"
poll-interval = "250ms"

[[transport.adapter]]
kind = "store"
path = "mailbox.db"
prune-after = "24h"

[messenger]
history-depth = 20

[registry]
dir = "agents"
watch = true

[dispatcher]
timeout = "10s"
retry-limit = 0
ranker = "keyword"
inbox-topic = "orchestrator-inbox"

[api]
listen = "localhost:8080"
`

func TestParseOrchestrator(t *testing.T) {
	conf, err := Parse(orchestratorToml)
	if err != nil {
		t.Fatal(err)
	}

	if err := conf.ValidateAgent(); err != nil {
		t.Fatal(err)
	}

	if conf.Agent.ID != "orchestrator" {
		t.Fatalf("unexpected agent id %q", conf.Agent.ID)
	}
	if conf.Transport.ProbeTimeout.Duration() != 500*time.Millisecond {
		t.Fatalf("unexpected probe timeout %v", conf.Transport.ProbeTimeout.Duration())
	}
	if conf.Transport.AckTimeout.Duration() != 5*time.Second {
		t.Fatalf("ack timeout default was lost: %v", conf.Transport.AckTimeout.Duration())
	}

	if l := len(conf.Transport.Adapters); l != 3 {
		t.Fatalf("expected 3 adapters, got %d", l)
	}
	if pi := conf.Transport.Adapters[0].PollInterval.Duration(); pi != DefaultPollInterval {
		t.Fatalf("expected default poll interval, got %v", pi)
	}
	if pi := conf.Transport.Adapters[1].PollInterval.Duration(); pi != 250*time.Millisecond {
		t.Fatalf("expected configured poll interval, got %v", pi)
	}
	if conf.Transport.Adapters[1].APIKey != "secret" {
		t.Fatalf("api-key was not decoded")
	}

	if conf.Messenger.HistoryDepth != 20 || conf.Messenger.DedupWindow != 1024 {
		t.Fatalf("unexpected messenger config %+v", conf.Messenger)
	}

	if conf.Dispatcher.RetryLimit != 0 {
		t.Fatalf("explicit retry-limit 0 was overwritten: %d", conf.Dispatcher.RetryLimit)
	}
	if conf.Dispatcher.SweepInterval.Duration() != time.Second {
		t.Fatalf("unexpected sweep interval %v", conf.Dispatcher.SweepInterval.Duration())
	}
}

func TestDefaults(t *testing.T) {
	conf, err := Parse("")
	if err != nil {
		t.Fatal(err)
	}

	if err := conf.Validate(); err != nil {
		t.Fatal(err)
	}

	checks := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"probe-timeout", conf.Transport.ProbeTimeout.Duration(), 2 * time.Second},
		{"ack-timeout", conf.Transport.AckTimeout.Duration(), 5 * time.Second},
		{"recover-interval", conf.Transport.RecoverInterval.Duration(), 500 * time.Millisecond},
		{"recover-max-interval", conf.Transport.RecoverMaxInterval.Duration(), 30 * time.Second},
		{"timeout", conf.Dispatcher.Timeout.Duration(), 30 * time.Second},
		{"sweep-interval", conf.Dispatcher.SweepInterval.Duration(), time.Second},
		{"grace-period", conf.Dispatcher.GracePeriod.Duration(), 5 * time.Minute},
	}
	for _, check := range checks {
		if check.got != check.want {
			t.Fatalf("%s: expected %v, got %v", check.name, check.want, check.got)
		}
	}

	if conf.Messenger.HistoryDepth != 10 || conf.Dispatcher.RetryLimit != 2 {
		t.Fatalf("unexpected defaults %+v %+v", conf.Messenger, conf.Dispatcher)
	}

	if err := conf.ValidateAgent(); err == nil {
		t.Fatal("an agent without id and adapters was accepted")
	}
}

func TestValidateReportsAll(t *testing.T) {
	conf, err := Parse(`
[logging]
format = "xml"

[transport]
recover-interval = "1m"
recover-max-interval = "1s"

[[transport.adapter]]
kind = "carrier-pigeon"

[[transport.adapter]]
kind = "memory"

[dispatcher]
retry-limit = -1
ranker = "oracle"
`)
	if err != nil {
		t.Fatal(err)
	}

	err = conf.Validate()
	if err == nil {
		t.Fatal("invalid configuration was accepted")
	}

	merr, ok := err.(*multierror.Error)
	if !ok {
		t.Fatalf("expected a multierror, got %T", err)
	}
	if l := len(merr.Errors); l != 6 {
		t.Fatalf("expected 6 errors, got %d: %v", l, merr)
	}
	if !strings.Contains(err.Error(), "transport.adapter[1]") {
		t.Fatalf("error does not name the adapter: %v", err)
	}
}

func TestParseDurationError(t *testing.T) {
	if _, err := Parse("[transport]\nprobe-timeout = \"soon\"\n"); err == nil {
		t.Fatal("invalid duration was accepted")
	}
}

func TestLoad(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "boardd.toml")
	data := "[board]\nlisten = \"localhost:35039\"\nnode = \"lab\"\npath = \"ws\"\n"
	if err := os.WriteFile(filename, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	conf, err := Load(filename)
	if err != nil {
		t.Fatal(err)
	}
	if err := conf.ValidateBoard(); err != nil {
		t.Fatal(err)
	}

	announcement, err := conf.Announcement()
	if err != nil {
		t.Fatal(err)
	}
	if announcement.Port != 35039 || announcement.Path != "/ws" || announcement.Node != "lab" {
		t.Fatalf("unexpected announcement %+v", announcement)
	}

	if opts := conf.BoardOptions(nil); opts.HistoryDepth != 100 || opts.ReplayLimit != 10 || opts.OutboxSize != 256 {
		t.Fatalf("unexpected board options %+v", opts)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("missing file was loaded")
	}
}

func TestBuildTransport(t *testing.T) {
	dir := t.TempDir()
	conf, err := Parse(`
[agent]
id = "worker"

[[transport.adapter]]
kind = "memory"
url = "http://localhost:1"

[[transport.adapter]]
kind = "store"
path = "` + filepath.Join(dir, "mailbox.db") + `"
prune-after = "1h"
`)
	if err != nil {
		t.Fatal(err)
	}

	tr, err := conf.BuildTransport()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = tr.Close() }()

	adapters := tr.Selector.Adapters()
	if len(adapters) != 2 {
		t.Fatalf("expected 2 adapters, got %d", len(adapters))
	}
	if adapters[0].Kind() != transport.MemoryService || adapters[1].Kind() != transport.DurableStore {
		t.Fatalf("adapters are out of order: %v", adapters)
	}
	if addr := adapters[0].Address(); addr != "http://localhost:1" {
		t.Fatalf("memory adapter has address %q", addr)
	}
	if len(tr.Stores) != 1 || tr.PruneAfter[0].Duration() != time.Hour {
		t.Fatalf("durable store was not registered for pruning")
	}

	if m := conf.BuildMessenger(tr); m.AgentID() != "worker" {
		t.Fatalf("messenger has agent id %q", m.AgentID())
	}
}

func TestDispatcherOptions(t *testing.T) {
	conf := Default()
	conf.Dispatcher.Ranker = "keyword"
	conf.Dispatcher.RetryLimit = 0

	opts, err := conf.DispatcherOptions(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := opts.Ranker.(dispatch.KeywordRanker); !ok {
		t.Fatalf("unexpected ranker %T", opts.Ranker)
	}
	if opts.RetryLimit != 0 || opts.Timeout != 30*time.Second {
		t.Fatalf("unexpected options %+v", opts)
	}

	conf.Dispatcher.Ranker = "oracle"
	if _, err := conf.DispatcherOptions(nil, nil); err == nil {
		t.Fatal("unknown ranker was accepted")
	}
}

func TestSetupLogging(t *testing.T) {
	defer log.SetLevel(log.GetLevel())
	defer log.SetFormatter(log.StandardLogger().Formatter)

	LogConf{Level: "warn", Format: "json"}.SetupLogging()

	if log.GetLevel() != log.WarnLevel {
		t.Fatalf("unexpected log level %v", log.GetLevel())
	}
	if _, ok := log.StandardLogger().Formatter.(*log.JSONFormatter); !ok {
		t.Fatalf("unexpected formatter %T", log.StandardLogger().Formatter)
	}
}
