package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; engine and
// listener changes require a restart and are intentionally absent.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ThresholdsChanged is true when the confidence filter thresholds
	// changed. The defaults are baked into the engine at construction, so
	// this is surfaced for operator logging; a restart applies them.
	ThresholdsChanged bool

	// StreamTuningChanged is true when any segmentation parameter
	// (end-of-speech, min speech, padding, timeouts, chunking) changed.
	// Applies to sessions opened after the reload.
	StreamTuningChanged bool
}

// Changed reports whether the diff carries any hot-reloadable change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ThresholdsChanged || d.StreamTuningChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Engine.LogprobThreshold != new.Engine.LogprobThreshold ||
		old.Engine.NoSpeechThreshold != new.Engine.NoSpeechThreshold {
		d.ThresholdsChanged = true
	}

	if old.Stream != new.Stream {
		d.StreamTuningChanged = true
	}

	return d
}
