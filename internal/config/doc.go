// Package config loads, validates and persists bedrock-keeper settings.
//
// Settings live in a YAML file next to the server installation. Every field
// has a default so the tool can run without any configuration at all; an
// absent settings file simply yields the defaults.
package config
