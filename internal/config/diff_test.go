package config_test

import (
	"testing"

	"github.com/voxrelay/voxrelay/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:      config.ServerConfig{LogLevel: config.LogInfo},
		Departments: map[string]string{"sales": "+15551112222"},
		Interrupt:   config.InterruptConfig{Enabled: true, MinEnergy: 500},
	}
	d := config.Diff(cfg, cfg)
	if d.Any() {
		t.Errorf("Diff of identical configs = %+v, want no changes", d)
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
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
	if d.DepartmentsChanged || d.InterruptChanged || d.PipelineChanged {
		t.Errorf("unexpected extra changes: %+v", d)
	}
}

func TestDiff_DepartmentsChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Departments: map[string]string{"sales": "+15551112222"}}
	new := &config.Config{Departments: map[string]string{"sales": "+15559998888"}}

	d := config.Diff(old, new)
	if !d.DepartmentsChanged {
		t.Error("expected DepartmentsChanged=true")
	}
}

func TestDiff_DepartmentAdded(t *testing.T) {
	t.Parallel()
	old := &config.Config{Departments: map[string]string{"sales": "+15551112222"}}
	new := &config.Config{Departments: map[string]string{
		"sales":   "+15551112222",
		"support": "+15553334444",
	}}

	if d := config.Diff(old, new); !d.DepartmentsChanged {
		t.Error("expected DepartmentsChanged=true for added department")
	}
}

func TestDiff_InterruptTuningChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Interrupt: config.InterruptConfig{Enabled: true, MinEnergy: 500}}
	new := &config.Config{Interrupt: config.InterruptConfig{Enabled: true, MinEnergy: 650}}

	d := config.Diff(old, new)
	if !d.InterruptChanged {
		t.Error("expected InterruptChanged=true")
	}
	if d.PipelineChanged {
		t.Error("expected PipelineChanged=false")
	}
}

func TestDiff_PipelineTuningChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Pipeline: config.PipelineConfig{SilenceThresholdSec: 0.8}}
	new := &config.Config{Pipeline: config.PipelineConfig{SilenceThresholdSec: 1.2}}

	if d := config.Diff(old, new); !d.PipelineChanged {
		t.Error("expected PipelineChanged=true")
	}
}
