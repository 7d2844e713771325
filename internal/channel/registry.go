// Package channel manages the chat channels the assistant listens on.
package channel

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/soyeahso/kassa/internal/domain"
	"github.com/soyeahso/kassa/internal/logging"
)

// Registry owns the configured channels and their run loops.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*entry
	running  conc.WaitGroup
	log      *logging.Logger
}

type entry struct {
	ch domain.Channel

	mu      sync.Mutex
	running bool
	lastErr error
}

func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		channels: make(map[string]*entry),
		log:      log.Sub("channels"),
	}
}

// Register adds ch, replacing any channel with the same ID.
func (r *Registry) Register(ch domain.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.ID()] = &entry{ch: ch}
	r.log.Debug().Str("channel", ch.ID()).Msg("channel registered")
}

func (r *Registry) Get(id string) (domain.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.channels[id]
	if !ok {
		return nil, false
	}
	return e.ch, true
}

// Each calls fn for every channel in ID order.
func (r *Registry) Each(fn func(domain.Channel)) {
	for _, e := range r.sorted() {
		fn(e.ch)
	}
}

func (r *Registry) sorted() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.channels))
	for _, e := range r.channels {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *entry) int { return cmp.Compare(a.ch.ID(), b.ch.ID()) })
	return out
}

// Status reports every channel in ID order. Channels that do not report
// their own status are described by their run loop.
func (r *Registry) Status() []domain.ChannelStatus {
	entries := r.sorted()
	out := make([]domain.ChannelStatus, 0, len(entries))
	for _, e := range entries {
		if sc, ok := e.ch.(interface{ Status() domain.ChannelStatus }); ok {
			out = append(out, sc.Status())
			continue
		}
		e.mu.Lock()
		st := domain.ChannelStatus{ChannelID: e.ch.ID(), Running: e.running}
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		e.mu.Unlock()
		out = append(out, st)
	}
	return out
}

// Send delivers msg through the channel named by msg.ChannelID.
func (r *Registry) Send(ctx context.Context, msg domain.OutboundMessage) error {
	ch, ok := r.Get(msg.ChannelID)
	if !ok {
		return fmt.Errorf("unknown channel %q", msg.ChannelID)
	}
	return ch.Send(ctx, msg)
}

// StartAll runs each channel's Start in its own goroutine. Start blocks for
// the life of a connection, so failures are logged and kept for Status.
func (r *Registry) StartAll(ctx context.Context) {
	for _, e := range r.sorted() {
		e.mu.Lock()
		e.running = true
		e.mu.Unlock()

		r.log.Info().Str("channel", e.ch.ID()).Msg("starting channel")
		r.running.Go(func() {
			err := e.ch.Start(ctx)
			e.mu.Lock()
			e.running = false
			e.lastErr = err
			e.mu.Unlock()
			if err != nil && ctx.Err() == nil {
				r.log.Error().Err(err).Str("channel", e.ch.ID()).Msg("channel exited")
			}
		})
	}
}

// StopAll stops every channel, then waits for the run loops started by
// StartAll to return or for ctx to end.
func (r *Registry) StopAll(ctx context.Context) error {
	var errs []error
	for _, e := range r.sorted() {
		if err := e.ch.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.ch.ID(), err))
		}
	}

	done := make(chan struct{})
	go func() {
		r.running.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for channels: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
