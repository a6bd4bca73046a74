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

package config

import (
	"os"
	"regexp"
)

// envVarPattern matches ${VAR} or ${VAR:default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// substituteEnvVarsString replaces ${VAR} or ${VAR:default} with the
// environment variable's value, or the default if it's unset.
func substituteEnvVarsString(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		value := os.Getenv(parts[1])
		if value == "" && len(parts) > 2 {
			return parts[2]
		}
		return value
	})
}

// substituteEnvVars walks every string field that can plausibly reference
// an environment variable and substitutes it in place.
func substituteEnvVars(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Identity.Path = substituteEnvVarsString(cfg.Identity.Path)
	cfg.LLM.BaseURL = substituteEnvVarsString(cfg.LLM.BaseURL)
	cfg.LLM.ModelName = substituteEnvVarsString(cfg.LLM.ModelName)
	cfg.Listen.Address = substituteEnvVarsString(cfg.Listen.Address)
	cfg.Listen.Path = substituteEnvVarsString(cfg.Listen.Path)
	cfg.Artifacts.OutputRoot = substituteEnvVarsString(cfg.Artifacts.OutputRoot)
	for i, root := range cfg.Artifacts.LoadRoots {
		cfg.Artifacts.LoadRoots[i] = substituteEnvVarsString(root)
	}
	cfg.Logging.Level = substituteEnvVarsString(cfg.Logging.Level)
	cfg.Logging.Format = substituteEnvVarsString(cfg.Logging.Format)
	cfg.Logging.Output = substituteEnvVarsString(cfg.Logging.Output)
}
