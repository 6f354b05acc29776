package preview

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config collects every knob this module exposes (§6). The Go zero value
// is not the default configuration (its host addresses are empty) — call
// DefaultConfig to get sane defaults before applying a loaded file or
// flag overrides.
type Config struct {
	DataPlaneHost    string `toml:"data-plane-host"`
	ControlPlaneHost string `toml:"control-plane-host"`
	PartialRendering bool   `toml:"partial-rendering"`
	InvertColors     bool   `toml:"invert-colors"`
	PreviewMode      string `toml:"preview-mode"`
	Dashboard        bool   `toml:"dashboard"`
	OtelEndpoint     string `toml:"otel-endpoint"`
	LogJSON          bool   `toml:"log-json"`
}

// DefaultConfig returns the configuration a bare invocation runs with.
func DefaultConfig() Config {
	return Config{
		DataPlaneHost:    "127.0.0.1:23625",
		ControlPlaneHost: "127.0.0.1:23626",
		PartialRendering: false,
		InvertColors:     false,
		PreviewMode:      "document",
		Dashboard:        false,
		OtelEndpoint:     "",
		LogJSON:          false,
	}
}

// LoadConfigFile decodes a TOML config file on top of DefaultConfig.
// Fields absent from the file keep their default value.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}
