package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zeusync/entitysync/internal/entity"
	"github.com/zeusync/entitysync/internal/mockapi"
	"github.com/zeusync/entitysync/internal/observability/log"
)

const shutdownTimeout = 5 * time.Second

// loadSeed reads a JSON object mapping entity types to record lists.
func loadSeed(path string) (map[string][]entity.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seed map[string][]entity.Record
	if err = json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return seed, nil
}

func newMockAPICommand(opts *rootOptions) *cobra.Command {
	var addr, token, refresh, seedPath string
	var restricted []string
	cmd := &cobra.Command{
		Use:   "mock-api",
		Short: "Serve an in-memory copy of the REST API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			logger := log.NewDevelopment(log.ParseLevel(cfg.LogLevel))
			defer func() { _ = logger.Sync() }()

			if addr == "" {
				addr = cfg.MockAddr
			}
			if token == "" {
				token = cfg.Token
			}
			apiOpts := []mockapi.Option{mockapi.WithLogger(logger), mockapi.WithRestricted(restricted...)}
			if token != "" {
				apiOpts = append(apiOpts, mockapi.WithToken(token))
			}
			if refresh != "" {
				apiOpts = append(apiOpts, mockapi.WithRefreshToken(refresh))
			}
			api := mockapi.New(apiOpts...)
			if seedPath != "" {
				seed, err := loadSeed(seedPath)
				if err != nil {
					return err
				}
				for t, records := range seed {
					api.Seed(t, records)
				}
			}

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mock api listening on http://%s\n", ln.Addr())
			return serve(cmd.Context(), &http.Server{Handler: api, ReadHeaderTimeout: 5 * time.Second}, ln, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default mock_addr)")
	cmd.Flags().StringVar(&token, "token", "", "accepted bearer token (default token)")
	cmd.Flags().StringVar(&refresh, "refresh-token", "", "accepted refresh cookie value")
	cmd.Flags().StringVar(&seedPath, "seed", "", "JSON file mapping entity types to records")
	cmd.Flags().StringSliceVar(&restricted, "restricted", nil, "entity types that always answer 401")
	return cmd
}

// serve runs srv on ln until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, logger log.Log) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down", log.String("addr", ln.Addr().String()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
