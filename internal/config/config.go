package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models basin.yml, the per-scenario policy file. Everything physical
// lives in the CSV input tables; this file carries only tunable policy and
// the solver hookup.
type Config struct {
	Scenario struct {
		Name   string `yaml:"name"`
		Inputs string `yaml:"inputs"`
	} `yaml:"scenario"`
	Boundary struct {
		// FinalVolumeFraction is the default final-volume floor, as a
		// fraction of maximum volume, applied when reservoir_ts_data.csv
		// gives no explicit final target. Anti-drawdown policy, not physics.
		FinalVolumeFraction float64 `yaml:"final_volume_fraction"`
	} `yaml:"boundary"`
	Spillage struct {
		// Penalty is the cost in $/m3 charged on spillway flow at non-sink
		// nodes. It discourages spilling; it is not a hard limit.
		Penalty float64 `yaml:"penalty"`
	} `yaml:"spillage"`
	Solver struct {
		// Command is the external solver invocation. {lp} and {sol} are
		// replaced with the problem and solution file paths.
		Command   string  `yaml:"command"`
		Tolerance float64 `yaml:"tolerance"`
	} `yaml:"solver"`
}

// Load reads and validates config from a scenario directory.
func Load(dir string) (*Config, error) {
	path := Path(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with basin scenario init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if basin.yml does not exist.
func LoadOptional(dir string) (*Config, error) {
	data, err := os.ReadFile(Path(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(filepath.Base(dir)), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Scenario.Name == "" {
		return fmt.Errorf("config.scenario.name is required")
	}
	if c.Boundary.FinalVolumeFraction < 0 || c.Boundary.FinalVolumeFraction > 1 {
		return fmt.Errorf("config.boundary.final_volume_fraction must be within [0,1], got %g", c.Boundary.FinalVolumeFraction)
	}
	if c.Spillage.Penalty < 0 {
		return fmt.Errorf("config.spillage.penalty must be non-negative, got %g", c.Spillage.Penalty)
	}
	if c.Solver.Tolerance <= 0 {
		return fmt.Errorf("config.solver.tolerance must be positive, got %g", c.Solver.Tolerance)
	}
	return nil
}

// InputsDir resolves the input-table directory relative to the scenario dir.
func (c *Config) InputsDir(scenarioDir string) string {
	inputs := c.Scenario.Inputs
	if inputs == "" {
		inputs = "."
	}
	if filepath.IsAbs(inputs) {
		return inputs
	}
	return filepath.Join(scenarioDir, inputs)
}

// Path returns the config file path for a scenario directory.
func Path(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "basin.yml")
}

// Default returns the default Config for a scenario name.
func Default(name string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, name)), &cfg)
	cfg.Scenario.Name = name
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(name string) string {
	return fmt.Sprintf(defaultTemplate, name)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `scenario:
  name: %s
  inputs: .

boundary:
  # Final reservoir volume must not drop below this fraction of maximum
  # volume unless reservoir_ts_data.csv names an explicit target.
  final_volume_fraction: 0.5

spillage:
  # $/m3 charged on spillway flow at non-sink nodes.
  penalty: 100

solver:
  # External LP solver invocation; {lp} and {sol} are substituted.
  command: ""
  tolerance: 1e-6
`
