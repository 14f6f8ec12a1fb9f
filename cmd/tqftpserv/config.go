package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/a-wai/tqftpserv/internal/storage"
)

type serverConfig struct {
	Node        uint32
	DebugListen string
	DisableZstd bool
	Mappings    []storage.Mapping
}

type fileConfig struct {
	Node        uint32         `toml:"node"`
	DebugListen string         `toml:"debug_listen"`
	DisableZstd bool           `toml:"disable_zstd"`
	Paths       []filePathSpec `toml:"paths"`
}

type filePathSpec struct {
	Prefix   string `toml:"prefix"`
	Dir      string `toml:"dir"`
	ReadOnly bool   `toml:"readonly"`
}

func defaultConfig() serverConfig {
	return serverConfig{
		Node: 1,
		Mappings: []storage.Mapping{
			{Prefix: "/readonly", Dir: "/lib/firmware", ReadOnly: true},
			{Prefix: "/readwrite", Dir: "/var/lib/tqftpserv"},
			{Prefix: "/", Dir: "/var/lib/tqftpserv"},
		},
	}
}

func loadConfig(path string) (serverConfig, error) {
	cfg := defaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serverConfig{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("node") {
		cfg.Node = raw.Node
	}

	if meta.IsDefined("debug_listen") {
		cfg.DebugListen = strings.TrimSpace(raw.DebugListen)
	}

	if meta.IsDefined("disable_zstd") {
		cfg.DisableZstd = raw.DisableZstd
	}

	if meta.IsDefined("paths") {
		mappings := make([]storage.Mapping, 0, len(raw.Paths))
		for _, p := range raw.Paths {
			dir := strings.TrimSpace(p.Dir)
			if dir == "" {
				return serverConfig{}, fmt.Errorf("path mapping %q has no dir", p.Prefix)
			}
			mappings = append(mappings, storage.Mapping{
				Prefix:   strings.TrimSpace(p.Prefix),
				Dir:      dir,
				ReadOnly: p.ReadOnly,
			})
		}
		cfg.Mappings = mappings
	}

	return cfg, nil
}
