package viewmodel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vbonduro/where2skate/internal/domain"
	"github.com/vbonduro/where2skate/internal/repository"
)

// skateparkSource is the part of repository.SkateparkRepository the holder
// uses.
type skateparkSource interface {
	ListSkateparks(ctx context.Context) *repository.Subscription[[]domain.Skatepark]
	ListRatings(ctx context.Context, skateparkID string) *repository.Subscription[[]domain.Rating]
	AddSkatepark(ctx context.Context, in repository.NewSkatepark) (string, error)
	AddRating(ctx context.Context, skateparkID string, value float64, comment string) error
	UpdateSkatepark(ctx context.Context, park domain.Skatepark) error
	DeleteSkatepark(ctx context.Context, id string) error
}

// feed tracks the one live subscription of a data kind. gen grows with every
// fetch; values from an older generation are dropped. key names what the
// feed follows, such as the skatepark of a ratings feed.
type feed struct {
	gen    uint64
	key    string
	cancel context.CancelFunc
}

func (f *feed) restart(parent context.Context) (context.Context, uint64) {
	if f.cancel != nil {
		f.cancel()
	}
	f.gen++
	ctx, cancel := context.WithCancel(parent)
	f.cancel = cancel
	return ctx, f.gen
}

// SkateparkHolder keeps the skatepark list, the ratings of one skatepark, a
// loading flag and the last error message. Construction starts the
// skatepark fetch.
//
// Observers run on the holder's goroutines and must not call back into the
// holder synchronously.
type SkateparkHolder struct {
	repo   skateparkSource
	logger *slog.Logger

	Skateparks *Observable[[]domain.Skatepark]
	Ratings    *Observable[[]domain.Rating]
	Loading    *Observable[bool]
	Error      *Observable[string]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards the feeds and is held while a fetch publishes state.
	mu      sync.Mutex
	closed  bool
	parks   feed
	ratings feed
}

func NewSkateparkHolder(repo skateparkSource, logger *slog.Logger) *SkateparkHolder {
	ctx, cancel := context.WithCancel(context.Background())
	h := &SkateparkHolder{
		repo:       repo,
		logger:     logger.With("component", "skatepark_holder"),
		Skateparks: NewObservable[[]domain.Skatepark](nil),
		Ratings:    NewObservable[[]domain.Rating](nil),
		Loading:    NewObservable(false),
		Error:      NewObservable(""),
		ctx:        ctx,
		cancel:     cancel,
	}
	h.FetchSkateparks()
	return h
}

// FetchSkateparks replaces any running skatepark subscription with a new one.
func (h *SkateparkHolder) FetchSkateparks() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	ctx, gen := h.parks.restart(h.ctx)
	h.Loading.set(true)
	h.Error.set("")
	h.wg.Add(1)
	h.mu.Unlock()

	sub := h.repo.ListSkateparks(ctx)
	go func() {
		defer h.wg.Done()
		follow(h, sub, func() uint64 { return h.parks.gen }, gen, h.Skateparks, "Error fetching skateparks")
	}()
}

// FetchRatings follows the ratings of skateparkID. Ratings of a different
// skatepark are cleared; a refetch of the same one keeps them until new
// values arrive.
func (h *SkateparkHolder) FetchRatings(skateparkID string) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	ctx, gen := h.ratings.restart(h.ctx)
	if h.ratings.key != skateparkID {
		h.ratings.key = skateparkID
		h.Ratings.set(nil)
	}
	h.Loading.set(true)
	h.Error.set("")
	h.wg.Add(1)
	h.mu.Unlock()

	sub := h.repo.ListRatings(ctx, skateparkID)
	go func() {
		defer h.wg.Done()
		follow(h, sub, func() uint64 { return h.ratings.gen }, gen, h.Ratings, "Error fetching ratings")
	}()
}

// follow publishes every value of sub while gen is still the current
// generation, then reports a listener failure.
func follow[T any](h *SkateparkHolder, sub *repository.Subscription[T], current func() uint64, gen uint64, out *Observable[T], failure string) {
	defer sub.Close()

	for v := range sub.Updates() {
		h.mu.Lock()
		if current() != gen {
			h.mu.Unlock()
			return
		}
		out.set(v)
		h.Loading.set(false)
		h.Error.set("")
		h.mu.Unlock()
	}

	err := sub.Err()
	if err == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if current() != gen {
		return
	}
	h.logger.Error(failure, "error", err)
	h.Loading.set(false)
	h.Error.set(failure + ": " + err.Error())
}

// AddSkatepark writes a new skatepark. A running skatepark subscription
// picks it up; nothing is refetched.
func (h *SkateparkHolder) AddSkatepark(ctx context.Context, in repository.NewSkatepark) (string, error) {
	var id string
	err := h.write(ctx, "Failed to add skatepark", func(ctx context.Context) error {
		var err error
		id, err = h.repo.AddSkatepark(ctx, in)
		return err
	})
	return id, err
}

func (h *SkateparkHolder) AddRating(ctx context.Context, skateparkID string, value float64, comment string) error {
	return h.write(ctx, "Failed to add rating", func(ctx context.Context) error {
		return h.repo.AddRating(ctx, skateparkID, value, comment)
	})
}

func (h *SkateparkHolder) UpdateSkatepark(ctx context.Context, park domain.Skatepark) error {
	return h.write(ctx, "Failed to update skatepark", func(ctx context.Context) error {
		return h.repo.UpdateSkatepark(ctx, park)
	})
}

func (h *SkateparkHolder) DeleteSkatepark(ctx context.Context, id string) error {
	return h.write(ctx, "Failed to delete skatepark", func(ctx context.Context) error {
		return h.repo.DeleteSkatepark(ctx, id)
	})
}

func (h *SkateparkHolder) write(ctx context.Context, failure string, fn func(context.Context) error) error {
	h.mu.Lock()
	h.Loading.set(true)
	h.Error.set("")
	h.mu.Unlock()

	err := fn(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.logger.Error(failure, "error", err)
		h.Error.set(failure + ": " + err.Error())
	}
	h.Loading.set(false)
	return err
}

// Close cancels every subscription and waits for them to finish. Fetches
// started after Close do nothing.
func (h *SkateparkHolder) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
}
