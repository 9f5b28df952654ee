// Package config holds the recognized options of a gptkit client and loads
// them from files and the environment.
//
// Files may be YAML (.yaml, .yml), TOML (.toml) or JSON with comments
// (.json, .jsonc). Values missing from a file keep their defaults.
// Environment variables with the GPTKIT_ prefix override file values.
//
//	cfg, err := config.LoadFile("gptkit.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config
