// Package defaults provides embedded starter files for the reverie init
// subcommand.
package defaults

import _ "embed"

// ConfigYAML is an annotated config.yaml listing every setting at its
// default value.
//
//go:embed config.example.yaml
var ConfigYAML []byte

// EnvExample documents the environment variables config.yaml may reference.
//
//go:embed env.example
var EnvExample []byte
