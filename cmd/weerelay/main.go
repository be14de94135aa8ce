package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mhoran/weerelay/internal/config"
	"github.com/mhoran/weerelay/internal/logging"
	"github.com/mhoran/weerelay/internal/state"
	"github.com/mhoran/weerelay/internal/storage"
	"github.com/mhoran/weerelay/relay"
)

var Version = "dev"

func main() {
	if err := run(); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("weerelay starting",
		slog.String("version", Version),
		slog.String("host", cfg.Host),
		slog.Bool("tls", cfg.UseTLS),
	)

	store, err := storage.Open()
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	// The observer runs under the store's write lock; it only enqueues
	// here, and the persist goroutine does the bbolt writes.
	persistCh := make(chan func(), 64)

	appState := state.NewStore(logger)
	appState.SetObserver(observer(logger, store, persistCh))

	client := relay.NewClient(relay.ClientConfig{
		Host:           cfg.Host,
		Password:       cfg.Password,
		UseTLS:         cfg.UseTLS,
		Compression:    cfg.Compression,
		HashPassword:   cfg.HashPassword,
		FetchLineCount: cfg.FetchLineCount,
	}, appState, nil, logger)

	client.OnConfirmedNotification(func(n state.Notification) {
		if err := store.SaveNotification(n); err != nil {
			logger.Warn("persisting notification", slog.String("error", err.Error()))
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return appState.Run(gctx)
	})

	g.Go(func() error {
		for {
			select {
			case fn := <-persistCh:
				fn()
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		// A profile edit is the external trigger that re-arms the
		// reconnect after the client has given up.
		return config.Watch(gctx, cfg.ProfilesPath, logger, func() {
			if err := client.Reconnect(gctx); err != nil {
				logger.Warn("reconnect after profile change failed", slog.String("error", err.Error()))
			}
		})
	})

	if err := client.Connect(gctx); err != nil {
		logger.Warn("initial connect failed", slog.String("error", err.Error()))
	}

	defer client.Disconnect()

	return g.Wait()
}

// observer logs interesting mutations and hands the pieces that survive
// restarts to the persist queue. It runs on the store's commit path, so
// it copies what it needs and never touches the database itself; a full
// queue drops the write rather than stalling the run loop.
func observer(logger *slog.Logger, store *storage.Storage, persistCh chan<- func()) func(state.Mutation, *state.App) {
	enqueue := func(fn func()) {
		select {
		case persistCh <- fn:
		default:
			logger.Warn("persist queue full, dropping write")
		}
	}

	return func(m state.Mutation, app *state.App) {
		switch mut := m.(type) {
		case state.SetVersion:
			logger.Info("relay version negotiated", slog.String("version", mut.Version))

			enqueue(func() {
				if err := store.SetServerVersion(mut.Version); err != nil {
					logger.Warn("persisting server version", slog.String("error", err.Error()))
				}
			})

		case state.BuffersSnapshot:
			logger.Info("buffer snapshot applied", slog.Int("buffers", len(app.Buffers)))

		case state.LastReadLines:
			markers := make(map[string]string, len(mut.Markers))

			for pointer, line := range mut.Markers {
				if b, ok := app.Buffers[pointer]; ok {
					markers[b.FullName] = line
				}
			}

			enqueue(func() {
				for name, line := range markers {
					if err := store.SetReadMarker(name, line); err != nil {
						logger.Warn("persisting read marker", slog.String("error", err.Error()))
					}
				}
			})

		case state.LineAdded:
			logger.Debug("line added",
				slog.String("buffer", mut.Line.BufferPointer),
				slog.String("prefix", relay.StripStyles(mut.Line.Prefix)),
				slog.String("message", relay.StripStyles(mut.Line.Message)),
			)
		}
	}
}
