// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package printing

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/bureau-foundation/renderhost/bridge"
	"github.com/bureau-foundation/renderhost/document"
	"github.com/bureau-foundation/renderhost/lib/ipc"
	"github.com/bureau-foundation/renderhost/spool"
)

// Spooler is the child side of printing.
type Spooler struct {
	bridge      *bridge.Bridge
	cache       *document.HandleCache
	directory   string
	compression spool.CompressionTag
	logger      *slog.Logger

	sequence atomic.Uint64

	// tokens maps each open print document to the submission that
	// opened it. Handlers run on the coordinating context only.
	tokens map[uint16]uint64
}

// NewSpooler registers the spooler's handlers on b; call before
// b.Start. Spool files are written to directory.
func NewSpooler(b *bridge.Bridge, cache *document.HandleCache, directory string, compression spool.CompressionTag, logger *slog.Logger) *Spooler {
	if logger == nil {
		logger = slog.Default()
	}
	spooler := &Spooler{
		bridge:      b,
		cache:       cache,
		directory:   directory,
		compression: compression,
		logger:      logger,
		tokens:      make(map[uint16]uint64),
	}
	b.Handle(ipc.MethodStartPrint, spooler.handleStartPrint)
	b.Handle(ipc.MethodRenderPage, spooler.handleRenderPage)
	b.Handle(ipc.MethodFinishPrint, spooler.handleFinishPrint)
	return spooler
}

func (s *Spooler) handleStartPrint(ctx context.Context, request *bridge.Request) (any, error) {
	var message ipc.StartPrint
	if err := request.Decode(&message); err != nil {
		return nil, err
	}

	reply := ipc.PageCount{ID: message.ID, Token: message.Token}
	if _, err := s.cache.PageCount(message.ID); err == nil {
		// HandleCache.Open panics on a live id; host-chosen ids are
		// checked first.
		reply.Error = fmt.Sprintf("document %d is already open", message.ID)
	} else if err := s.cache.Open(message.ID, message.Path); err != nil {
		reply.Error = err.Error()
	} else {
		s.tokens[message.ID] = message.Token
		reply.Count, _ = s.cache.PageCount(message.ID)
	}
	return nil, s.bridge.Send(ctx, ipc.MethodPageCount, reply)
}

func (s *Spooler) handleRenderPage(ctx context.Context, request *bridge.Request) (any, error) {
	var message ipc.RenderPage
	if err := request.Decode(&message); err != nil {
		return nil, err
	}

	reply := ipc.PageSpooled{ID: message.ID, Token: message.Token, Page: message.Page}
	if token, open := s.tokens[message.ID]; !open || token != message.Token {
		reply.Error = fmt.Sprintf("document %d is not open for this job", message.ID)
		return nil, s.bridge.Send(ctx, ipc.MethodPageSpooled, reply)
	}

	path := filepath.Join(s.directory,
		fmt.Sprintf("doc%d-page%d-%d.spool", message.ID, message.Page, s.sequence.Add(1)))
	device := document.Extent{Width: message.DeviceWidth, Height: message.DeviceHeight}
	scale, err := s.cache.RenderPageToFile(message.ID, message.Page, message.Width, message.Height, device, path, s.compression)
	if err != nil {
		reply.Error = err.Error()
	} else {
		reply.Path = path
		reply.Scale = scale
	}
	return nil, s.bridge.Send(ctx, ipc.MethodPageSpooled, reply)
}

func (s *Spooler) handleFinishPrint(ctx context.Context, request *bridge.Request) (any, error) {
	var message ipc.FinishPrint
	if err := request.Decode(&message); err != nil {
		return nil, err
	}
	if token, open := s.tokens[message.ID]; !open || token != message.Token {
		s.logger.Debug("finish for a document not open under this job", "id", message.ID, "token", message.Token)
		return nil, nil
	}
	delete(s.tokens, message.ID)
	return nil, s.cache.Close(message.ID)
}
