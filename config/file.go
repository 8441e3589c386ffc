package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// strategyFile is the YAML layout of CONFIG_FILE. Only the strategy
// section is read; everything else stays in the environment.
type strategyFile struct {
	Strategy Strategy `yaml:"strategy"`
}

// LoadStrategyFile decodes path over base: keys present in the file win,
// absent keys keep base's values.
func LoadStrategyFile(path string, base Strategy) (Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("config: read %s: %w", path, err)
	}

	f := strategyFile{Strategy: base}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return base, fmt.Errorf("config: parse %s: %w", path, err)
	}
	f.Strategy.Symbol = strings.ToUpper(f.Strategy.Symbol)
	return f.Strategy, nil
}
