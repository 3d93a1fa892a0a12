// Package config provides configuration loading and management for radplan.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Dose calculation parameters
	Dose struct {
		// Algorithm selects the dose engine: convolution, pencil, or aaa
		Algorithm string `yaml:"algorithm"`

		// FieldWidth is the default open field width in mm
		FieldWidth float64 `yaml:"fieldWidth"`

		// FieldHeight is the default open field height in mm
		FieldHeight float64 `yaml:"fieldHeight"`

		// SourceDistance is the source to isocenter distance in mm
		SourceDistance float64 `yaml:"sourceDistance"`

		// PencilsX and PencilsY set the pencil beam lattice resolution
		PencilsX int `yaml:"pencilsX"`
		PencilsY int `yaml:"pencilsY"`

		// HeterogeneityCorrection toggles density scaling of the AAA
		// primary component
		HeterogeneityCorrection bool `yaml:"heterogeneityCorrection"`

		// Normalization is max, mean, or none
		Normalization string `yaml:"normalization"`

		// ReferenceStructure receives the prescription during
		// normalization
		ReferenceStructure string `yaml:"referenceStructure"`

		// NumCores specifies how many CPU cores to use for parallel
		// processing
		NumCores int `yaml:"numCores"`
	} `yaml:"dose"`

	// Beam weight optimization parameters
	Optimize struct {
		// Method is gradient or genetic
		Method string `yaml:"method"`

		// LearningRate is the gradient descent step size
		LearningRate float64 `yaml:"learningRate"`

		// MaxIterations bounds the gradient descent loop
		MaxIterations int `yaml:"maxIterations"`

		// Tolerance is the score change below which the search stops
		Tolerance float64 `yaml:"tolerance"`

		// PopulationSize is the genetic algorithm population
		PopulationSize int `yaml:"populationSize"`

		// MaxGenerations bounds the genetic algorithm loop
		MaxGenerations int `yaml:"maxGenerations"`

		// EliteFraction of each generation survives unchanged
		EliteFraction float64 `yaml:"eliteFraction"`

		// TournamentSize controls selection pressure
		TournamentSize int `yaml:"tournamentSize"`

		// CrossoverRate is the single-point crossover probability
		CrossoverRate float64 `yaml:"crossoverRate"`

		// MutationRate is the per-gene mutation probability
		MutationRate float64 `yaml:"mutationRate"`

		// Seed makes genetic runs reproducible
		Seed int64 `yaml:"seed"`
	} `yaml:"optimize"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default dose parameters
	cfg.Dose.Algorithm = "convolution"
	cfg.Dose.FieldWidth = 100
	cfg.Dose.FieldHeight = 100
	cfg.Dose.SourceDistance = 1000
	cfg.Dose.PencilsX = 20
	cfg.Dose.PencilsY = 20
	cfg.Dose.HeterogeneityCorrection = true
	cfg.Dose.Normalization = "max"
	cfg.Dose.ReferenceStructure = "PTV"
	cfg.Dose.NumCores = runtime.NumCPU() // Use all available cores by default

	// Set default optimizer parameters
	cfg.Optimize.Method = "gradient"
	cfg.Optimize.LearningRate = 0.01
	cfg.Optimize.MaxIterations = 100
	cfg.Optimize.Tolerance = 1e-4
	cfg.Optimize.PopulationSize = 50
	cfg.Optimize.MaxGenerations = 100
	cfg.Optimize.EliteFraction = 0.1
	cfg.Optimize.TournamentSize = 3
	cfg.Optimize.CrossoverRate = 0.8
	cfg.Optimize.MutationRate = 0.1
	cfg.Optimize.Seed = 1

	// Set default output parameters
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
