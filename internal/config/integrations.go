// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Integrations configures document types and auxiliary copy steps.
type Integrations struct {
	// ExcludedTypes cannot receive scheduled updates.
	ExcludedTypes []string `yaml:"excluded_types"`

	Builder     BuilderIntegration `yaml:"builder"`
	Translation ToggleIntegration  `yaml:"translation"`
	Commerce    ToggleIntegration  `yaml:"commerce"`
}

// BuilderIntegration configures page-builder data and CSS cache copying.
type BuilderIntegration struct {
	Enabled    bool   `yaml:"enabled"`
	UploadsDir string `yaml:"uploads_dir"`
}

// ToggleIntegration is an integration with only an on/off switch.
type ToggleIntegration struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultIntegrations returns the integration settings used without a file.
func DefaultIntegrations() Integrations {
	return Integrations{
		Builder:     BuilderIntegration{Enabled: true, UploadsDir: "./uploads"},
		Translation: ToggleIntegration{Enabled: true},
		Commerce:    ToggleIntegration{Enabled: true},
	}
}

// IsExcluded reports whether the document type is excluded from scheduling.
func (i Integrations) IsExcluded(docType string) bool {
	for _, t := range i.ExcludedTypes {
		if t == docType {
			return true
		}
	}
	return false
}

// LoadIntegrations reads integration settings from a YAML file.
// Keys missing from the file keep their defaults.
func LoadIntegrations(path string) (Integrations, error) {
	cfg := DefaultIntegrations()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading integrations file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing integrations file: %w", err)
	}

	if cfg.Builder.Enabled && cfg.Builder.UploadsDir == "" {
		cfg.Builder.UploadsDir = "./uploads"
	}

	return cfg, nil
}
