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

// Command negotiate-bob runs the passive/provider side of a protocol
// negotiation: it listens for inbound sessions, negotiates an application
// protocol against a fixed capability description, generates and loads
// the provider artifact, and answers requests with a fixed echo-style
// callback until the process is interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/sage-metaprotocol/internal/logger"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/config"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/identity"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/llm"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/orchestrator"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/registry"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/transport/websocket"
	"github.com/sage-x-project/sage-metaprotocol/pkg/health"
	"github.com/sage-x-project/sage-metaprotocol/pkg/version"
)

var (
	configPath string
	capability string
	healthPort int
)

var rootCmd = &cobra.Command{
	Use:     "negotiate-bob",
	Short:   "Run the passive/provider side of a protocol negotiation session",
	Version: version.String(),
	RunE:    run,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().StringVar(&configPath, "config", "negotiate-bob.yaml", "path to the agent config file")
	rootCmd.Flags().StringVar(&capability, "capability", "Echoes back whatever text field it is sent, unmodified.", "capability description offered to requesters")
	rootCmd.Flags().IntVar(&healthPort, "health-port", 0, "port for the health/metrics endpoint (0 disables it)")
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

	if healthPort > 0 {
		healthServer, err := health.StartHealthServer(healthPort, cfg.LLM.BaseURL, cfg.Artifacts.OutputRoot, reg.Count)
		if err != nil {
			return fmt.Errorf("start health server: %w", err)
		}
		defer func() { _ = healthServer.Stop(context.Background()) }()
		logger.Info("health endpoint listening", logger.Int("port", healthPort))
	}

	capabilityInfo := func(ctx context.Context, topic string) (string, error) {
		return capability, nil
	}

	onReady := func(sess *orchestrator.ProviderSession, err error) {
		if err != nil {
			logger.Warn("session negotiation failed", logger.Error(err))
			return
		}
		logger.Info("negotiated provider session", logger.String("remoteDid", sess.RemoteDID), logger.String("protocolHash", sess.ProtocolHash))
		sess.SetProtocolCallback(echoCallback)
	}

	listener := websocket.NewListener(orch.AcceptWithNegotiation(capabilityInfo, onReady))

	mux := http.NewServeMux()
	mux.Handle(cfg.Listen.Path, listener.Handler())
	server := &http.Server{Addr: cfg.Listen.Address, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("negotiate-bob listening", logger.String("address", cfg.Listen.Address), logger.String("path", cfg.Listen.Path))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-sig:
		logger.Info("negotiate-bob shutting down")
		return server.Close()
	}
}

// echoCallback answers every request by copying its "text" field straight
// back into the response under the same name.
func echoCallback(ctx context.Context, input map[string]any) (map[string]any, error) {
	out := map[string]any{}
	if v, ok := input["text"]; ok {
		out["text"] = v
	}
	return out, nil
}
