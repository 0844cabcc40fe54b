// Package config loads QuantumFS's mount configuration from, in order
// of increasing precedence, compiled-in defaults (NewDefault), a YAML
// settings file (LoadFromFile, default path ~/.qfs/settings), QFS_-
// prefixed environment variables (LoadFromEnv), and finally CLI flags
// applied by cmd/qfs on top of the loaded Configuration.
package config
