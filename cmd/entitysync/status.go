package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zeusync/entitysync/internal/entity"
	"github.com/zeusync/entitysync/internal/syncer"
)

type statusResult struct {
	APIBase        string             `json:"apiBase"`
	RetryMode      string             `json:"retryMode"`
	MaxRetries     int                `json:"maxRetries"`
	ConflictPolicy string             `json:"conflictPolicy"`
	EntityTypes    []string           `json:"entityTypes"`
	SignedIn       bool               `json:"signedIn"`
	Status         syncer.Status      `json:"status"`
	Operations     []entity.Operation `json:"operations"`
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	var skipSync bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the effective configuration and engine diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := opts.engine()
			if err != nil {
				return err
			}
			defer cleanup()

			var syncErr error
			if !skipSync {
				syncErr = eng.Manager.ForceSyncAll(cmd.Context())
			}
			cfg := eng.Config
			res := statusResult{
				APIBase:        cfg.APIBase,
				RetryMode:      cfg.RetryMode,
				MaxRetries:     cfg.MaxRetries,
				ConflictPolicy: cfg.ConflictPolicy,
				EntityTypes:    cfg.EntityTypes,
				SignedIn:       eng.Credentials.Token() != "",
				Status:         eng.Manager.GetOperationStatus(),
				Operations:     eng.Manager.PendingOperations(),
			}
			return newFormatter(opts, cmd.OutOrStdout()).emit(res, syncErr, func(w io.Writer) {
				fmt.Fprintf(w, "api base:            %s\n", res.APIBase)
				fmt.Fprintf(w, "retry mode:          %s (max %d)\n", res.RetryMode, res.MaxRetries)
				fmt.Fprintf(w, "conflict policy:     %s\n", res.ConflictPolicy)
				fmt.Fprintf(w, "signed in:           %t\n", res.SignedIn)
				writeStatus(w, res.Status)
				for _, op := range res.Operations {
					fmt.Fprintf(w, "  %s %s %s/%s (retries %d)\n", op.State, op.Kind, op.EntityType, op.EntityID, op.RetryCount)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&skipSync, "no-sync", false, "skip the initial resync")
	return cmd
}
