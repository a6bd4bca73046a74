// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Package config loads the negotiating agent's runtime configuration:
// its identity file location, the LLM endpoint it negotiates and
// generates code through, where to listen or dial, and where generated
// protocol artifacts live. Files may be YAML or JSON and may reference
// environment variables as ${VAR} or ${VAR:default}.
package config

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sage-x-project/sage-metaprotocol/internal/logger"
)

// Config is the full set of settings one negotiating agent process needs.
type Config struct {
	Environment string          `yaml:"environment" json:"environment"`
	Identity    IdentityConfig  `yaml:"identity" json:"identity"`
	LLM         LLMConfig       `yaml:"llm" json:"llm"`
	Listen      ListenConfig    `yaml:"listen" json:"listen"`
	Artifacts   ArtifactsConfig `yaml:"artifacts" json:"artifacts"`
	Logging     LoggingConfig   `yaml:"logging" json:"logging"`
}

// IdentityConfig locates this agent's persisted DID identity.
type IdentityConfig struct {
	Path string `yaml:"path" json:"path"`
}

// LLMConfig points at the OpenAI-compatible endpoint used for negotiation
// and code generation.
type LLMConfig struct {
	BaseURL   string `yaml:"base_url" json:"base_url"`
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
	ModelName string `yaml:"model_name" json:"model_name"`
}

// ListenConfig configures the passive/provider side's WebSocket listener.
type ListenConfig struct {
	Address string `yaml:"address" json:"address"`
	Path    string `yaml:"path" json:"path"`
}

// ArtifactsConfig locates where generated protocol code is written and
// which directories are scanned on startup to repopulate the registry.
type ArtifactsConfig struct {
	OutputRoot string   `yaml:"output_root" json:"output_root"`
	LoadRoots  []string `yaml:"load_roots" json:"load_roots"`
}

// LoggingConfig controls the process-wide structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// Load reads a YAML or JSON config file from path, optionally loading a
// .env file from the working directory first (ignored if absent), substitutes ${VAR}/
// ${VAR:default} references, and fills in defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, logger.NewSageError(logger.ErrCodeConfigurationError, "read config file "+path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, logger.NewSageError(logger.ErrCodeConfigurationError, "parse config file "+path+" (tried YAML and JSON)", err)
		}
	}

	substituteEnvVars(cfg)
	setDefaults(cfg)

	return cfg, nil
}

// APIKey resolves the LLM API key from the environment variable named by
// LLM.APIKeyEnv.
func (c *Config) APIKey() string {
	if c.LLM.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.LLM.APIKeyEnv)
}

func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Identity.Path == "" {
		cfg.Identity.Path = ".sage/identity.json"
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = "SAGE_LLM_API_KEY"
	}
	if cfg.Listen.Address == "" {
		cfg.Listen.Address = ":8765"
	}
	if cfg.Listen.Path == "" {
		cfg.Listen.Path = "/ws"
	}
	if cfg.Artifacts.OutputRoot == "" {
		cfg.Artifacts.OutputRoot = ".sage/protocols"
	}
	if len(cfg.Artifacts.LoadRoots) == 0 {
		cfg.Artifacts.LoadRoots = []string{cfg.Artifacts.OutputRoot}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// GetEnvironment returns the current environment from SAGE_ENV, falling
// back to ENVIRONMENT and then "development".
func GetEnvironment() string {
	env := os.Getenv("SAGE_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}
