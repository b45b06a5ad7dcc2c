// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the notelsp configuration, loaded from YAML.
type Config struct {
	// Name and Version are reported in the initialize response.
	Name    string `yaml:"name" validate:"required"`
	Version string `yaml:"version"`

	// LogFile routes logs off stderr. Never stdout on stdio transports.
	LogFile string `yaml:"log_file"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`

	// Keywords are offered as completion items in note documents.
	Keywords []string `yaml:"keywords" validate:"dive,required"`

	// WatchDir, when set, is watched for note file changes; diagnostics
	// are pushed for files modified outside the editor.
	WatchDir string `yaml:"watch_dir" validate:"omitempty,dir"`
}

// defaultConfig is used when no config file is given.
func defaultConfig() Config {
	return Config{
		Name:     "notelsp",
		Version:  "1.0.0",
		Keywords: []string{"TODO", "NOTE", "FIXME", "IDEA", "DONE"},
	}
}

// loadConfig reads and validates a YAML config file.
func loadConfig(path string) (Config, error) {
	config := defaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("parse config: %w", err)
	}
	if err := validator.New().Struct(&config); err != nil {
		return config, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}
