package config

import (
	"maps"
	"slices"
)

// ConfigDiff describes what changed between two configs. Only settings that
// can be applied without a restart are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CatalogChanged is set when the file or directory lists differ. File
	// contents are re-read on every reload regardless.
	CatalogChanged bool

	// CapabilitiesChanged is set when default capabilities or grants differ.
	CapabilitiesChanged bool

	// RestartRequired lists changed settings that only take effect on restart.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable setting changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.CatalogChanged || d.CapabilitiesChanged
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.CatalogChanged = !slices.Equal(old.Catalog.Files, new.Catalog.Files) ||
		!slices.Equal(old.Catalog.Dirs, new.Catalog.Dirs)

	d.CapabilitiesChanged = !sameSet(old.Viewer.DefaultCapabilities, new.Viewer.DefaultCapabilities) ||
		!maps.EqualFunc(old.Viewer.Grants, new.Viewer.Grants, sameSet)

	restart := func(name string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("playback.tick_rate", old.Playback.TickRate != new.Playback.TickRate)
	restart("viewer.path", old.Viewer.Path != new.Viewer.Path)
	restart("markup.color_profile", old.Markup.ColorProfile != new.Markup.ColorProfile)
	restart("discord", old.Discord != new.Discord)
	restart("mqtt", old.MQTT != new.MQTT)
	restart("history", old.History != new.History)

	return d
}

func sameSet(a, b []string) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(slices.Compact(a), slices.Compact(b))
}
