package assets

import (
	_ "embed"
)

// DefaultConfigYAML contains the embedded default configuration.
//
//go:embed defaults/config.yaml
var DefaultConfigYAML []byte

// SampleCardsYAML seeds the local card file on first run.
//
//go:embed defaults/cards.yaml
var SampleCardsYAML []byte
