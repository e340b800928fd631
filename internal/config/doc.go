// Package config loads, normalizes, and validates the TOML configuration
// shared by the daemon and CLI.
//
// Load resolves the config path (explicit flag, ~/.config/quaver/config.toml,
// or a project-local quaver.toml), decodes on top of Default(), expands ~ in
// paths, fills environment fallbacks for secrets, and rejects unusable
// combinations before any component starts. CreateSample writes the embedded
// annotated sample for `quaver config init`.
package config
