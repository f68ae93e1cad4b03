package ir

// Version constants for the portable context format and the engine.
const (
	// PortableVersion is the version of the serialized change-context format.
	PortableVersion = 1

	// EngineVersion is the tether engine version.
	EngineVersion = "0.1.0"
)
