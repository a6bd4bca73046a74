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

// Command negotiate-alice runs the active/requester side of a protocol
// negotiation: it dials a remote negotiate-bob-style listener, negotiates
// an application protocol for the given requirement, generates and loads
// the requester artifact, sends one request, and prints the response.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/sage-metaprotocol/internal/logger"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/config"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/identity"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/llm"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/orchestrator"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/registry"
	"github.com/sage-x-project/sage-metaprotocol/pkg/version"
)

var (
	configPath  string
	remoteURL   string
	requirement string
	inputDesc   string
	outputDesc  string
	requestText string
)

var rootCmd = &cobra.Command{
	Use:     "negotiate-alice",
	Short:   "Run the active/requester side of a protocol negotiation session",
	Version: version.String(),
	RunE:    run,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().StringVar(&configPath, "config", "negotiate-alice.yaml", "path to the agent config file")
	rootCmd.Flags().StringVar(&remoteURL, "remote", "ws://localhost:8765/ws", "negotiate-bob WebSocket URL to dial")
	rootCmd.Flags().StringVar(&requirement, "requirement", "A protocol that echoes a short text string back unchanged.", "capability being requested")
	rootCmd.Flags().StringVar(&inputDesc, "input", "a single string field named text", "description of the request payload")
	rootCmd.Flags().StringVar(&outputDesc, "output", "a single string field named text", "description of the response payload")
	rootCmd.Flags().StringVar(&requestText, "text", "hello from alice", "text field sent in the one request this command issues")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	id, err := identity.LoadOrGenerate(cfg.Identity.Path)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	client, err := llm.New(llm.Options{
		BaseURL:   cfg.LLM.BaseURL,
		APIKey:    cfg.APIKey(),
		ModelName: cfg.LLM.ModelName,
	})
	if err != nil {
		return fmt.Errorf("construct llm client: %w", err)
	}

	reg := registry.New()
	if err := reg.LoadRoots(cfg.Artifacts.LoadRoots); err != nil {
		return fmt.Errorf("load artifact registry: %w", err)
	}

	orch := orchestrator.New(id, client, reg, cfg.Artifacts.OutputRoot)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	sess, err := orch.ConnectWithNegotiation(ctx, remoteURL, requirement, inputDesc, outputDesc)
	if err != nil {
		return fmt.Errorf("connect with negotiation: %w", err)
	}
	defer sess.Close()

	logger.Info("negotiated requester session", logger.String("remoteDid", sess.RemoteDID), logger.String("protocolHash", sess.ProtocolHash))

	output, err := sess.Requester.SendRequest(ctx, map[string]any{"text": requestText})
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	encoded, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	fmt.Println(string(encoded))
	return nil
}
