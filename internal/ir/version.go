package ir

// Version constants for the rule IR and engine.
const (
	// IRVersion is the rule IR schema version.
	IRVersion = "1"

	// EngineVersion is the deduce engine version.
	EngineVersion = "0.1.0"
)
