package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/framecast/internal/config"
)

func base() *config.Config {
	cfg := &config.Config{
		Catalog: config.CatalogConfig{Files: []string{"a.yaml"}},
		Viewer: config.ViewerConfig{
			DefaultCapabilities: []string{"actionbar", "sound"},
			Grants:              map[string][]string{"alice": {"boss"}},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(base(), base())
	if d.Changed() || len(d.RestartRequired) != 0 {
		t.Errorf("diff = %+v, want empty", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(config.ConfigDiff) bool
	}{
		{"log level", func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			func(d config.ConfigDiff) bool { return d.LogLevelChanged && d.NewLogLevel == config.LogDebug }},
		{"catalog files", func(c *config.Config) { c.Catalog.Files = append(c.Catalog.Files, "b.yaml") },
			func(d config.ConfigDiff) bool { return d.CatalogChanged }},
		{"catalog dirs", func(c *config.Config) { c.Catalog.Dirs = []string{"extra"} },
			func(d config.ConfigDiff) bool { return d.CatalogChanged }},
		{"grant added", func(c *config.Config) { c.Viewer.Grants["bob"] = []string{"sound"} },
			func(d config.ConfigDiff) bool { return d.CapabilitiesChanged }},
		{"defaults changed", func(c *config.Config) { c.Viewer.DefaultCapabilities = []string{"sound"} },
			func(d config.ConfigDiff) bool { return d.CapabilitiesChanged }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next := base()
			tt.mutate(next)
			if d := config.Diff(base(), next); !tt.check(d) {
				t.Errorf("diff = %+v", d)
			}
		})
	}
}

func TestDiff_ReorderedCapabilitiesAreEqual(t *testing.T) {
	t.Parallel()
	next := base()
	next.Viewer.DefaultCapabilities = []string{"sound", "actionbar", "sound"}
	if d := config.Diff(base(), next); d.CapabilitiesChanged {
		t.Error("reordered capabilities reported as changed")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	next := base()
	next.Server.ListenAddr = ":9999"
	next.MQTT.Broker = "tcp://other:1883"
	d := config.Diff(base(), next)
	if d.Changed() {
		t.Errorf("restart-only changes marked hot-reloadable: %+v", d)
	}
	for _, want := range []string{"server.listen_addr", "mqtt"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("RestartRequired = %v, missing %q", d.RestartRequired, want)
		}
	}
}
