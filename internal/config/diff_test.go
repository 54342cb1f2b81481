package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/talespin/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged || d.TuningChanged || len(d.RestartRequired) != 0 {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level alone must not require a restart, got %v", d.RestartRequired)
	}
}

func TestDiff_TuningChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{}
	new := &config.Config{Session: config.SessionConfig{AutosaveDelay: 5 * time.Second}}

	d := config.Diff(old, new)
	if !d.TuningChanged {
		t.Fatal("expected TuningChanged=true")
	}
	if d.NewTuning.AutosaveDelay != 5*time.Second {
		t.Errorf("NewTuning.AutosaveDelay = %s", d.NewTuning.AutosaveDelay)
	}
}

func TestDiff_ExplicitDefaultIsNoChange(t *testing.T) {
	t.Parallel()
	old := &config.Config{}
	new := &config.Config{Session: config.SessionConfig{RolloverThreshold: 600}}

	if d := config.Diff(old, new); d.TuningChanged {
		t.Error("spelling out a default value should not count as a change")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, sampleYAML)
	new := mustLoad(t, sampleYAML)
	new.Providers.LLM.Model = "gpt-4o-mini"
	new.Store.PostgresDSN = "postgres://elsewhere/talespin"
	new.Server.ListenAddr = ":9090"

	d := config.Diff(old, new)
	for _, section := range []string{"server", "providers", "store"} {
		if !slices.Contains(d.RestartRequired, section) {
			t.Errorf("RestartRequired = %v, missing %q", d.RestartRequired, section)
		}
	}
	if d.TuningChanged {
		t.Error("tuning did not change")
	}
}
