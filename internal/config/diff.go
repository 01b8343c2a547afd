package config

import "maps"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: everything else
// (listen address, provider wiring, store DSN) requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DepartmentsChanged is true when the department → transfer-number map
	// differs. New transfers pick up the new numbers immediately.
	DepartmentsChanged bool

	// InterruptChanged is true when any barge-in tuning field differs.
	// Applies to calls started after the reload.
	InterruptChanged bool

	// PipelineChanged is true when any turn-taking tuning field differs.
	// Applies to calls started after the reload.
	PipelineChanged bool
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.DepartmentsChanged || d.InterruptChanged || d.PipelineChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !maps.Equal(old.Departments, new.Departments) {
		d.DepartmentsChanged = true
	}

	if old.Interrupt != new.Interrupt {
		d.InterruptChanged = true
	}

	if old.Pipeline != new.Pipeline {
		d.PipelineChanged = true
	}

	return d
}
