// Package config loads broker configuration from layered sources.
//
// Sources are merged in priority order: built-in defaults, the global
// config directory (~/.config/agentbridge), the project directory
// (agentbridge.json/jsonc/yaml/yml at the root or under .agentbridge/),
// an AGENTBRIDGE_CONFIG override file, and finally AGENTBRIDGE_*
// environment variables. A project .env is loaded through godotenv before
// anything else so both interpolation and overrides can use it.
//
// JSONC files are stripped of comments with tidwall/jsonc; YAML goes
// through gopkg.in/yaml.v3. All files support {env:VAR} interpolation.
//
// Watcher keeps the permission policy live: it watches the project
// directory through fsnotify and pushes re-merged policy rules to a
// callback, so rule edits apply without restarting the broker.
package config
