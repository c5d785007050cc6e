package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// config holds the tunables of one benchmark run. Every field has a flag
// counterpart; a value loaded from -config is the baseline, and any flag
// the caller actually passed on the command line overrides it, the same
// layering cmd/litebastion and cmd/witnessctl apply to their own flag sets.
type config struct {
	KeyWidth   int    `yaml:"key_width"`
	BatchSize  int    `yaml:"batch_size"`
	Iterations int    `yaml:"iterations"`
	Seed       uint64 `yaml:"seed"`
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`
	Listen     string `yaml:"listen"`
}

func defaultConfig() config {
	return config{
		KeyWidth:   20,
		BatchSize:  1000,
		Iterations: 200,
		Seed:       0xBB,
		Backend:    "memstore",
		SQLitePath: "treebench.db",
		Listen:     "localhost:7381",
	}
}

func loadConfig(path string) (config, error) {
	c := defaultConfig()
	if path == "" {
		return c, nil
	}
	f, err := os.ReadFile(path)
	if err != nil {
		return config{}, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(f, &c); err != nil {
		return config{}, fmt.Errorf("parsing config: %w", err)
	}
	return c, nil
}
