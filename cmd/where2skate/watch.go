package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/goccy/go-json"

	"github.com/vbonduro/where2skate/internal/config"
	"github.com/vbonduro/where2skate/internal/domain"
	"github.com/vbonduro/where2skate/internal/identity"
	"github.com/vbonduro/where2skate/internal/repository"
	"github.com/vbonduro/where2skate/internal/viewmodel"
)

// runWatch signs in and prints every change of the skatepark state as one
// JSON line until ctx is cancelled.
func runWatch(ctx context.Context, cfg *config.Config, logger *slog.Logger, email, password string) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	auth := identity.NewAuth(a.provider, logger)
	defer auth.Close()

	out := &linePrinter{w: os.Stdout, logger: logger}

	authHolder := viewmodel.NewAuthHolder(auth, logger)
	defer authHolder.Close()
	defer authHolder.CurrentUser.Subscribe(func(u *domain.User) { out.print("user", u) })()

	if err := authHolder.Login(ctx, email, password); err != nil {
		return fmt.Errorf("failed to sign in: %w", err)
	}

	repo := repository.NewSkateparkRepository(a.store, auth, logger)
	holder := viewmodel.NewSkateparkHolder(repo, logger)
	defer holder.Close()

	defer holder.Skateparks.Subscribe(func(parks []domain.Skatepark) { out.print("skateparks", parks) })()
	defer holder.Loading.Subscribe(func(loading bool) { out.print("loading", loading) })()
	defer holder.Error.Subscribe(func(msg string) {
		if msg != "" {
			out.print("error", msg)
		}
	})()

	<-ctx.Done()
	logger.Info("watch stopped")
	return nil
}

// linePrinter writes one {"kind": ..., "value": ...} object per line.
type linePrinter struct {
	mu     sync.Mutex
	w      io.Writer
	logger *slog.Logger
}

func (p *linePrinter) print(kind string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := json.NewEncoder(p.w).Encode(map[string]any{"kind": kind, "value": v}); err != nil {
		p.logger.Error("failed to print", "kind", kind, "error", err)
	}
}
