package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// NamesChanged is true when the canon table or display list changed.
	// The normalizer and STT prompt can pick the new names up mid-session.
	NamesChanged bool
	NewNames     NamesConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !equalCanon(old.Names.Canon, new.Names.Canon) || !slices.Equal(old.Names.Display, new.Names.Display) {
		d.NamesChanged = true
		d.NewNames = new.Names
	}

	return d
}

func equalCanon(old, new map[string]string) bool {
	if len(old) != len(new) {
		return false
	}
	for alias, canonical := range old {
		if new[alias] != canonical {
			return false
		}
	}
	return true
}
