// Package config loads the flapguard YAML configuration, applies
// FLAPGUARD_* environment overrides, and watches the file for changes.
//
// Secrets (webhook URLs, probe credentials) never live in the file
// itself - the config names an environment variable and the value is
// resolved at use time.
package config
