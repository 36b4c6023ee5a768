package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zeusync/entitysync/internal/syncer"
)

type resyncResult struct {
	Counts map[string]int `json:"counts"`
	Status syncer.Status  `json:"status"`
}

func newResyncCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resync",
		Short: "Refresh every configured entity type from the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := opts.engine()
			if err != nil {
				return err
			}
			defer cleanup()

			syncErr := eng.Manager.ForceSyncAll(cmd.Context())
			res := resyncResult{Counts: make(map[string]int), Status: eng.Manager.GetOperationStatus()}
			for _, t := range eng.Config.EntityTypes {
				res.Counts[t] = len(eng.Manager.GetState(t))
			}

			out := newFormatter(opts, cmd.OutOrStdout())
			if err = out.emit(res, syncErr, func(w io.Writer) {
				for _, t := range eng.Config.EntityTypes {
					fmt.Fprintf(w, "%-12s %d\n", t, res.Counts[t])
				}
			}); err != nil {
				return err
			}
			return syncErr
		},
	}
}
