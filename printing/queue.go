// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package printing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bureau-foundation/renderhost/bridge"
	"github.com/bureau-foundation/renderhost/lib/ipc"
	"github.com/bureau-foundation/renderhost/spool"
)

var (
	// ErrJobFailed wraps every reason a submitted job did not complete.
	ErrJobFailed = errors.New("printing: job failed")

	// ErrQueueFull is returned by Submit when all 65536 job ids are in
	// use.
	ErrQueueFull = errors.New("printing: no free job id")
)

// Job is a document to print onto a device.
type Job struct {
	// Path is the document, as the child will open it.
	Path string

	// Device receives the replayed pages in order.
	Device spool.Device

	// Width and Height are the area each page is fitted to, in device
	// units.
	Width, Height int

	// DeviceWidth and DeviceHeight are the device's own extent. Pages
	// are scaled down to fit it when it is smaller than Width×Height.
	// Zero means the device covers Width×Height.
	DeviceWidth, DeviceHeight int
}

// Result describes a completed job.
type Result struct {
	ID    uint16
	Pages int

	// Scales holds the scale applied to each page.
	Scales []float64
}

// Pending is a submitted job.
type Pending struct {
	id     uint16
	done   chan struct{}
	result Result
	err    error
}

// ID returns the job id.
func (p *Pending) ID() uint16 {
	return p.id
}

// Done is closed when the job completes or fails.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the job finishes or ctx ends.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// jobState is one submission. The counters are guarded by Queue.mu.
type jobState struct {
	job       Job
	token     uint64
	pending   *Pending
	pageCount int
	spooled   int
	scales    []float64
}

// Queue is the host side of printing.
type Queue struct {
	bridge         *bridge.Bridge
	spoolDirectory string
	logger         *slog.Logger

	mu        sync.Mutex
	jobs      map[uint16]*jobState
	lastToken uint64
}

// NewQueue registers the queue's handlers on b; call before b.Start.
// Spool files are accepted only from spoolDirectory.
func NewQueue(b *bridge.Bridge, spoolDirectory string, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	queue := &Queue{
		bridge:         b,
		spoolDirectory: filepath.Clean(spoolDirectory),
		logger:         logger,
		jobs:           make(map[uint16]*jobState),
	}
	b.Handle(ipc.MethodPageCount, queue.handlePageCount)
	b.Handle(ipc.MethodPageSpooled, queue.handlePageSpooled)
	return queue
}

// allocateID returns the lowest id not in use. Callers hold q.mu.
func (q *Queue) allocateID() (uint16, bool) {
	for id := 0; id <= 0xffff; id++ {
		if _, used := q.jobs[uint16(id)]; !used {
			return uint16(id), true
		}
	}
	return 0, false
}

// Submit starts job. It may be called from any context.
func (q *Queue) Submit(ctx context.Context, job Job) (*Pending, error) {
	if job.Path == "" || job.Device == nil {
		return nil, errors.New("printing: job needs a path and a device")
	}
	if job.Width <= 0 || job.Height <= 0 {
		return nil, fmt.Errorf("printing: page size must be positive, got %dx%d", job.Width, job.Height)
	}
	if job.DeviceWidth < 0 || job.DeviceHeight < 0 || (job.DeviceWidth == 0) != (job.DeviceHeight == 0) {
		return nil, fmt.Errorf("printing: device size must be both zero or both positive, got %dx%d", job.DeviceWidth, job.DeviceHeight)
	}

	q.mu.Lock()
	id, ok := q.allocateID()
	if !ok {
		q.mu.Unlock()
		return nil, ErrQueueFull
	}
	q.lastToken++
	token := q.lastToken
	pending := &Pending{id: id, done: make(chan struct{})}
	q.jobs[id] = &jobState{job: job, token: token, pending: pending}
	q.mu.Unlock()

	if err := q.bridge.Send(ctx, ipc.MethodStartPrint, ipc.StartPrint{ID: id, Token: token, Path: job.Path}); err != nil {
		q.mu.Lock()
		delete(q.jobs, id)
		q.mu.Unlock()
		return nil, err
	}
	q.logger.Info("print job submitted", "id", id, "token", token, "path", job.Path)
	return pending, nil
}

// lookup returns the job submitted under id and token, or nil when the
// id is free or now belongs to a later submission.
func (q *Queue) lookup(id uint16, token uint64) *jobState {
	q.mu.Lock()
	defer q.mu.Unlock()
	state := q.jobs[id]
	if state == nil || state.token != token {
		return nil
	}
	return state
}

// finish removes the job and completes it with err. A job already
// finished is left alone.
func (q *Queue) finish(state *jobState, err error) {
	q.mu.Lock()
	if q.jobs[state.pending.id] != state {
		q.mu.Unlock()
		return
	}
	delete(q.jobs, state.pending.id)
	result := Result{ID: state.pending.id, Pages: state.spooled, Scales: slices.Clone(state.scales)}
	q.mu.Unlock()

	state.pending.result = result
	state.pending.err = err
	close(state.pending.done)
	if err != nil {
		q.logger.Warn("print job failed", "id", result.ID, "error", err)
	} else {
		q.logger.Info("print job complete", "id", result.ID, "pages", result.Pages)
	}
}

// abort fails a job whose document the child has open, telling the
// child to close it.
func (q *Queue) abort(ctx context.Context, state *jobState, err error) {
	if sendErr := q.bridge.Send(ctx, ipc.MethodFinishPrint, ipc.FinishPrint{ID: state.pending.id, Token: state.token}); sendErr != nil {
		err = errors.Join(err, sendErr)
	}
	q.finish(state, fmt.Errorf("%w: %w", ErrJobFailed, err))
}

func (q *Queue) handlePageCount(ctx context.Context, request *bridge.Request) (any, error) {
	var message ipc.PageCount
	if err := request.Decode(&message); err != nil {
		return nil, err
	}
	state := q.lookup(message.ID, message.Token)
	if state == nil {
		q.logger.Debug("page count for a finished job", "id", message.ID, "token", message.Token)
		if message.Error != "" {
			return nil, nil
		}
		// The child opened a document nobody is waiting for.
		return nil, q.bridge.Send(ctx, ipc.MethodFinishPrint, ipc.FinishPrint{ID: message.ID, Token: message.Token})
	}

	if message.Error != "" {
		q.finish(state, fmt.Errorf("%w: opening %s: %s", ErrJobFailed, state.job.Path, message.Error))
		return nil, nil
	}

	q.mu.Lock()
	state.pageCount = message.Count
	state.scales = make([]float64, message.Count)
	q.mu.Unlock()

	for page := range message.Count {
		err := q.bridge.Send(ctx, ipc.MethodRenderPage, ipc.RenderPage{
			ID:           message.ID,
			Token:        message.Token,
			Page:         page,
			Width:        state.job.Width,
			Height:       state.job.Height,
			DeviceWidth:  state.job.DeviceWidth,
			DeviceHeight: state.job.DeviceHeight,
		})
		if err != nil {
			q.abort(ctx, state, err)
			return nil, nil
		}
	}
	return nil, nil
}

// contained reports whether path names a file directly inside the
// spool directory. The child chooses spool paths; the host removes
// them, so anything else is refused.
func (q *Queue) contained(path string) bool {
	if !filepath.IsAbs(path) {
		return false
	}
	relative, err := filepath.Rel(q.spoolDirectory, filepath.Clean(path))
	return err == nil && relative != "." && !strings.ContainsRune(relative, filepath.Separator) && relative != ".."
}

func (q *Queue) handlePageSpooled(ctx context.Context, request *bridge.Request) (any, error) {
	var message ipc.PageSpooled
	if err := request.Decode(&message); err != nil {
		return nil, err
	}

	if message.Path != "" && !q.contained(message.Path) {
		err := fmt.Errorf("spool file %q is outside %s", message.Path, q.spoolDirectory)
		if state := q.lookup(message.ID, message.Token); state != nil {
			q.abort(ctx, state, err)
		}
		return nil, err
	}

	state := q.lookup(message.ID, message.Token)
	if state == nil {
		// A page of a job that already failed or was aborted. Its id may
		// belong to a newer job by now; the page is not for that one.
		if message.Path != "" {
			os.Remove(message.Path)
		}
		q.logger.Debug("dropped page of a finished job", "id", message.ID, "token", message.Token, "page", message.Page)
		return nil, nil
	}

	if message.Error != "" {
		q.abort(ctx, state, fmt.Errorf("rendering page %d: %s", message.Page, message.Error))
		return nil, nil
	}

	image, err := spool.Load(message.Path)
	if removeErr := os.Remove(message.Path); removeErr != nil {
		q.logger.Warn("removing spool file", "path", message.Path, "error", removeErr)
	}
	if err == nil {
		err = image.Replay(state.job.Device)
	}
	if err != nil {
		q.abort(ctx, state, fmt.Errorf("page %d: %w", message.Page, err))
		return nil, nil
	}

	q.mu.Lock()
	if message.Page >= 0 && message.Page < len(state.scales) {
		state.scales[message.Page] = message.Scale
	}
	state.spooled++
	complete := state.spooled == state.pageCount
	q.mu.Unlock()
	q.logger.Debug("page printed", "id", message.ID, "page", message.Page, "scale", message.Scale)

	if complete {
		if err := q.bridge.Send(ctx, ipc.MethodFinishPrint, ipc.FinishPrint{ID: message.ID, Token: message.Token}); err != nil {
			q.finish(state, fmt.Errorf("%w: %w", ErrJobFailed, err))
			return nil, nil
		}
		q.finish(state, nil)
	}
	return nil, nil
}

// Abort fails every outstanding job with err. Used when the channel
// to the child is gone. It may be called from any context.
func (q *Queue) Abort(err error) {
	q.mu.Lock()
	states := make([]*jobState, 0, len(q.jobs))
	for _, state := range q.jobs {
		states = append(states, state)
	}
	q.mu.Unlock()

	for _, state := range states {
		q.finish(state, fmt.Errorf("%w: %w", ErrJobFailed, err))
	}
}

// Len returns the number of outstanding jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
