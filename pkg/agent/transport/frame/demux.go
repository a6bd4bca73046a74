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

package frame

import (
	"context"
	"sync"
	"time"

	"github.com/sage-x-project/sage-metaprotocol/internal/logger"
	"github.com/sage-x-project/sage-metaprotocol/internal/metrics"
)

// AppHandler consumes decoded application-protocol payloads once a
// requester/provider pair has finished negotiating and code generation has
// completed.
type AppHandler func(ctx context.Context, payload []byte) error

// MetaHandler consumes decoded meta-protocol payloads. It is always bound
// before the demultiplexer starts, since negotiation messages can arrive
// at any point in the session's lifetime.
type MetaHandler func(ctx context.Context, payload []byte) error

// SideHandler consumes natural-language or verification subchannel
// payloads.
type SideHandler func(ctx context.Context, t ProtocolType, payload []byte) error

// Source is anything the demultiplexer can pull raw frames from: a secure
// session, a websocket carrier, or a test double.
type Source interface {
	Recv(ctx context.Context) ([]byte, error)
}

// Demultiplexer runs a single receive loop over a Source and routes each
// frame by its header's protocol type. Exactly one goroutine ever calls
// Source.Recv for a given Demultiplexer.
//
// Application frames received before a handler has been bound (i.e. before
// code generation has completed on this side) are buffered in order and
// drained into the handler the moment BindAppHandler is called, so no
// application frame is ever dropped in the window between session open and
// protocol load.
type Demultiplexer struct {
	src  Source
	meta MetaHandler
	side SideHandler

	mu         sync.Mutex
	appHandler AppHandler
	appBuffer  [][]byte
}

// NewDemultiplexer creates a demultiplexer bound to src. meta must not be
// nil: every session always has a negotiator to hand meta-protocol frames
// to. side may be nil, in which case natural-language/verification frames
// are logged and dropped.
func NewDemultiplexer(src Source, meta MetaHandler, side SideHandler) *Demultiplexer {
	return &Demultiplexer{src: src, meta: meta, side: side}
}

// BindAppHandler attaches the application-protocol handler and drains any
// frames that arrived and were buffered before this call. It is safe to
// call at most once; subsequent calls replace the handler but do not
// re-drain already-delivered frames.
func (d *Demultiplexer) BindAppHandler(ctx context.Context, h AppHandler) error {
	d.mu.Lock()
	d.appHandler = h
	buffered := d.appBuffer
	d.appBuffer = nil
	d.mu.Unlock()

	for _, payload := range buffered {
		if err := h(ctx, payload); err != nil {
			logger.Warn("buffered application frame handler error", logger.Error(err))
		}
	}
	return nil
}

// Run starts the receive loop and blocks until ctx is canceled or the
// source returns an error. It is intended to be launched in its own
// goroutine by the caller.
func (d *Demultiplexer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		raw, err := d.src.Recv(ctx)
		if err != nil {
			return err
		}

		t, payload, err := Decode(raw)
		if err != nil {
			// A decode error is scoped to this one frame; the session stays up.
			logger.Warn("dropping undecodable frame", logger.Error(err))
			continue
		}

		d.dispatch(ctx, t, payload)
	}
}

func (d *Demultiplexer) dispatch(ctx context.Context, t ProtocolType, payload []byte) {
	start := time.Now()
	status := "handled"
	defer func() {
		metrics.MessagesProcessed.WithLabelValues(t.String(), status).Inc()
		metrics.MessageProcessingDuration.Observe(time.Since(start).Seconds())
		metrics.MessageSize.Observe(float64(len(payload)))
	}()

	switch t {
	case Meta:
		if err := d.meta(ctx, payload); err != nil {
			logger.Warn("meta frame handler error", logger.Error(err))
		}
	case Application:
		d.mu.Lock()
		handler := d.appHandler
		if handler == nil {
			d.appBuffer = append(d.appBuffer, payload)
			d.mu.Unlock()
			status = "buffered"
			return
		}
		d.mu.Unlock()
		if err := handler(ctx, payload); err != nil {
			logger.Warn("application frame handler error", logger.Error(err))
		}
	case NaturalLanguage, Verification:
		if d.side != nil {
			if err := d.side(ctx, t, payload); err != nil {
				logger.Warn("side-channel frame handler error", logger.Error(err))
			}
		} else {
			logger.Debug("dropping side-channel frame, no handler bound", logger.String("type", t.String()))
			status = "dropped"
		}
	default:
		logger.Warn("dropping frame of unknown protocol type", logger.Int("type", int(t)))
		status = "dropped"
	}
}
