package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/zeusync/entitysync/internal/feed"
	"github.com/zeusync/entitysync/internal/observability/log"
	"github.com/zeusync/entitysync/internal/syncer"
)

func feedRouter(m *syncer.Manager, fs *feed.Server) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.GetOperationStatus())
	})
	r.Get("/state/{entityType}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": m.GetState(chi.URLParam(r, "entityType"))})
	})
	r.Handle("/feed", fs)
	return r
}

// resyncLoop calls ForceSyncAll immediately and then on a jittered interval until ctx is done.
func resyncLoop(ctx context.Context, m *syncer.Manager, interval time.Duration, jitter float64, logger log.Log) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	run := func() {
		if err := m.ForceSyncAll(ctx); err != nil {
			logger.Warn("Resync cycle failed", log.Error(err))
		}
	}
	run()
	if interval <= 0 {
		return
	}

	timer := time.NewTimer(jitteredIntervalWithSample(interval, jitter, rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			run()
			timer.Reset(jitteredIntervalWithSample(interval, jitter, rng.Float64()))
		}
	}
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Resync periodically and stream changes over a websocket feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := opts.engine()
			if err != nil {
				return err
			}
			defer cleanup()
			if addr == "" {
				addr = eng.Config.FeedAddr
			}

			fs := feed.NewServer(eng.Manager.Hub(), eng.Logger)
			defer func() { _ = fs.Close() }()

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "feed listening on ws://%s/feed\n", ln.Addr())

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			done := make(chan struct{})
			go func() {
				defer close(done)
				resyncLoop(ctx, eng.Manager, eng.Config.ResyncInterval, eng.Config.ResyncJitter, eng.Logger)
			}()

			srv := &http.Server{Handler: feedRouter(eng.Manager, fs), ReadHeaderTimeout: 5 * time.Second}
			srv.RegisterOnShutdown(func() { _ = fs.Close() })
			err = serve(ctx, srv, ln, eng.Logger)
			cancel()
			<-done
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "feed listen address (default feed_addr)")
	return cmd
}
