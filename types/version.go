package types

// Version is the canonical project version.
// Both binaries (orchestrator CLI and worker) share this version.
const Version = "0.3.0"
