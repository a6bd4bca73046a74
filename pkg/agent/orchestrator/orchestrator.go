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

// Package orchestrator wires identity, transport, the short-term key
// handshake, meta-protocol negotiation, code generation and the artifact
// registry together into the two entry points an agent actually calls:
// ConnectWithNegotiation on the active side, AcceptWithNegotiation on the
// passive side. Everything below this package is a standalone layer; this
// is where the layers become one session.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sage-x-project/sage-metaprotocol/internal/logger"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/codegen"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/identity"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/llm"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/metaprotocol"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/negotiation"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/registry"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/session"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/transport/frame"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/transport/websocket"
)

// Orchestrator holds everything a session needs that outlives any single
// negotiation: this agent's identity, its LLM oracle, the artifact
// registry, and where freshly generated artifact bundles get written.
type Orchestrator struct {
	Identity   *identity.Identity
	LLM        llm.Client
	Registry   *registry.Registry
	OutputRoot string
}

// New constructs an Orchestrator. outputRoot is where Generate writes new
// artifact bundles; reg should already have LoadRoots called on whatever
// directories hold previously generated bundles.
func New(id *identity.Identity, client llm.Client, reg *registry.Registry, outputRoot string) *Orchestrator {
	return &Orchestrator{Identity: id, LLM: client, Registry: reg, OutputRoot: outputRoot}
}

// ConnectWithNegotiation is the active/requester entry point: dial out,
// run the short-term key handshake, negotiate a protocol for requirement,
// generate and persist both sides' artifacts, load the requester half,
// and return a ready-to-use RequesterSession once code generation has
// been acknowledged by both ends.
func (o *Orchestrator) ConnectWithNegotiation(ctx context.Context, remoteURL, requirement, inputDesc, outputDesc string) (*RequesterSession, error) {
	carrier, err := websocket.Dial(ctx, remoteURL)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: dial: %w", err)
	}

	stk, err := session.NegotiateShortTermKeyActive(ctx, session.PlaintextPeer{Carrier: carrier}, o.Identity.DID)
	if err != nil {
		_ = carrier.Close()
		return nil, fmt.Errorf("orchestrator: short-term key handshake: %w", err)
	}

	secSess, err := session.NewSecureSessionFromShortTermKey(stk)
	if err != nil {
		_ = carrier.Close()
		return nil, fmt.Errorf("orchestrator: build secure session: %w", err)
	}
	collab := session.NewCollaborator(carrier, secSess, stk.SecretKeyID)

	sessionCtx, cancel := context.WithCancel(ctx)
	neg := negotiation.NewRequesterNegotiator(o.LLM, requirement, inputDesc, outputDesc)
	mp := metaprotocol.New(neg, collab.Send)
	demux := frame.NewDemultiplexer(collab, mp.HandleMetaFrame, nil)
	go func() {
		if err := demux.Run(sessionCtx); err != nil {
			logger.Debug("requester demultiplexer stopped", logger.Error(err))
		}
	}()

	result, err := mp.NegotiateProtocol(sessionCtx)
	if err != nil {
		cancel()
		_ = collab.Close()
		return nil, fmt.Errorf("orchestrator: negotiate protocol: %w", err)
	}
	if result.Status != negotiation.StatusAccepted {
		cancel()
		_ = collab.Close()
		return nil, fmt.Errorf("orchestrator: protocol negotiation ended in status %s: %s", result.Status, result.ModificationSummary)
	}

	genResult, err := codegen.Generate(sessionCtx, o.LLM, requirement, "1.0", result.CandidateProtocol, o.OutputRoot)
	if err != nil {
		_ = mp.NotifyCodeGeneration(sessionCtx, metaprotocol.CodeGenError, err.Error())
		cancel()
		_ = collab.Close()
		return nil, fmt.Errorf("orchestrator: generate artifacts: %w", err)
	}
	if err := o.Registry.Register(filepath.Join(o.OutputRoot, genResult.ModuleName)); err != nil {
		_ = mp.NotifyCodeGeneration(sessionCtx, metaprotocol.CodeGenError, err.Error())
		cancel()
		_ = collab.Close()
		return nil, fmt.Errorf("orchestrator: register artifacts: %w", err)
	}

	container, ok := o.Registry.GetRequesterByHash(genResult.ProtocolHash)
	if !ok {
		_ = mp.NotifyCodeGeneration(sessionCtx, metaprotocol.CodeGenError, "requester artifact not found after registration")
		cancel()
		_ = collab.Close()
		return nil, fmt.Errorf("orchestrator: requester artifact for %s not found after registration", genResult.ProtocolHash)
	}

	sess := newRequesterSession(sessionCtx, cancel, collab, mp, demux, container, stk.RemoteDID)

	if err := mp.NotifyCodeGeneration(sessionCtx, metaprotocol.CodeGenGenerated, ""); err != nil {
		sess.Close()
		return nil, fmt.Errorf("orchestrator: notify code generation: %w", err)
	}
	peerStatus, err := mp.WaitForCodeGeneration(sessionCtx)
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("orchestrator: wait for peer code generation: %w", err)
	}
	if peerStatus != metaprotocol.CodeGenGenerated {
		sess.Close()
		return nil, fmt.Errorf("orchestrator: peer reported code generation failure")
	}

	if err := demux.BindAppHandler(sessionCtx, sess.Requester.HandleMessage); err != nil {
		sess.Close()
		return nil, fmt.Errorf("orchestrator: bind application handler: %w", err)
	}

	return sess, nil
}

// AcceptWithNegotiation returns a websocket.NewSessionFunc suitable for
// installing on a Listener: it runs the passive/provider side of the
// handshake and negotiation for every accepted connection, and hands the
// caller a ready ProviderSession through onReady once code generation has
// been acknowledged. onReady runs on its own goroutine per session, so it
// may block without stalling other inbound connections.
func (o *Orchestrator) AcceptWithNegotiation(capabilityInfo negotiation.CapabilityInfoFunc, onReady func(*ProviderSession, error)) websocket.NewSessionFunc {
	return func(carrier *websocket.Carrier) {
		go o.acceptSession(context.Background(), carrier, capabilityInfo, onReady)
	}
}

func (o *Orchestrator) acceptSession(ctx context.Context, carrier *websocket.Carrier, capabilityInfo negotiation.CapabilityInfoFunc, onReady func(*ProviderSession, error)) {
	stk, err := session.NegotiateShortTermKeyPassive(ctx, session.PlaintextPeer{Carrier: carrier}, o.Identity.DID)
	if err != nil {
		_ = carrier.Close()
		onReady(nil, fmt.Errorf("orchestrator: short-term key handshake: %w", err))
		return
	}

	secSess, err := session.NewSecureSessionFromShortTermKey(stk)
	if err != nil {
		_ = carrier.Close()
		onReady(nil, fmt.Errorf("orchestrator: build secure session: %w", err))
		return
	}
	collab := session.NewCollaborator(carrier, secSess, stk.SecretKeyID)

	sessionCtx, cancel := context.WithCancel(ctx)
	neg := negotiation.NewProviderNegotiator(o.LLM, capabilityInfo)
	mp := metaprotocol.New(neg, collab.Send)
	demux := frame.NewDemultiplexer(collab, mp.HandleMetaFrame, nil)
	go func() {
		if err := demux.Run(sessionCtx); err != nil {
			logger.Debug("provider demultiplexer stopped", logger.Error(err))
		}
	}()

	result, err := mp.WaitRemoteNegotiation(sessionCtx)
	if err != nil {
		cancel()
		_ = collab.Close()
		onReady(nil, fmt.Errorf("orchestrator: negotiate protocol: %w", err))
		return
	}
	if result.Status != negotiation.StatusAccepted {
		cancel()
		_ = collab.Close()
		onReady(nil, fmt.Errorf("orchestrator: protocol negotiation ended in status %s: %s", result.Status, result.ModificationSummary))
		return
	}

	genResult, err := codegen.Generate(sessionCtx, o.LLM, stk.RemoteDID, "1.0", result.CandidateProtocol, o.OutputRoot)
	if err != nil {
		_ = mp.NotifyCodeGeneration(sessionCtx, metaprotocol.CodeGenError, err.Error())
		cancel()
		_ = collab.Close()
		onReady(nil, fmt.Errorf("orchestrator: generate artifacts: %w", err))
		return
	}
	if err := o.Registry.Register(filepath.Join(o.OutputRoot, genResult.ModuleName)); err != nil {
		_ = mp.NotifyCodeGeneration(sessionCtx, metaprotocol.CodeGenError, err.Error())
		cancel()
		_ = collab.Close()
		onReady(nil, fmt.Errorf("orchestrator: register artifacts: %w", err))
		return
	}

	container, ok := o.Registry.GetProviderByHash(genResult.ProtocolHash)
	if !ok {
		_ = mp.NotifyCodeGeneration(sessionCtx, metaprotocol.CodeGenError, "provider artifact not found after registration")
		cancel()
		_ = collab.Close()
		onReady(nil, fmt.Errorf("orchestrator: provider artifact for %s not found after registration", genResult.ProtocolHash))
		return
	}

	sess := newProviderSession(sessionCtx, cancel, collab, mp, demux, container, stk.RemoteDID)

	if err := mp.NotifyCodeGeneration(sessionCtx, metaprotocol.CodeGenGenerated, ""); err != nil {
		sess.Close()
		onReady(nil, fmt.Errorf("orchestrator: notify code generation: %w", err))
		return
	}
	peerStatus, err := mp.WaitForCodeGeneration(sessionCtx)
	if err != nil {
		sess.Close()
		onReady(nil, fmt.Errorf("orchestrator: wait for peer code generation: %w", err))
		return
	}
	if peerStatus != metaprotocol.CodeGenGenerated {
		sess.Close()
		onReady(nil, fmt.Errorf("orchestrator: peer reported code generation failure"))
		return
	}

	if err := demux.BindAppHandler(sessionCtx, sess.Provider.HandleMessage); err != nil {
		sess.Close()
		onReady(nil, fmt.Errorf("orchestrator: bind application handler: %w", err))
		return
	}

	onReady(sess, nil)
}
