package config

import (
	"reflect"

	"github.com/MrWong99/talespin/internal/session"
)

// ConfigDiff describes what changed between two configs.
// Tuning and log level are applied live; everything else needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TuningChanged is true when the session or recall section changed. The
	// new tuning applies to sessions opened afterwards.
	TuningChanged bool
	NewTuning     session.Tuning

	// RestartRequired lists the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if oldT, newT := old.Tuning(), new.Tuning(); oldT != newT {
		d.TuningChanged = true
		d.NewTuning = newT
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Recall.Enabled != new.Recall.Enabled {
		d.RestartRequired = append(d.RestartRequired, "recall")
	}
	return d
}
