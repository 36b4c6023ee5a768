package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zeusync/entitysync/internal/entity"
)

// applyRequest is a parsed apply invocation.
type applyRequest struct {
	Kind       entity.Kind
	EntityType string
	ID         string
	Payload    entity.Record
}

func parseApplyArgs(args []string) (applyRequest, error) {
	var req applyRequest
	switch args[0] {
	case "create":
		req.Kind = entity.KindCreate
	case "update":
		req.Kind = entity.KindUpdate
	case "delete":
		req.Kind = entity.KindDelete
	default:
		return req, fmt.Errorf("unknown operation %q: must be create, update or delete", args[0])
	}
	req.EntityType = args[1]
	rest := args[2:]

	switch req.Kind {
	case entity.KindCreate:
		switch len(rest) {
		case 1:
		case 2:
			req.ID, rest = rest[0], rest[1:]
		default:
			return req, fmt.Errorf("create takes <type> [id] <json>")
		}
	case entity.KindUpdate:
		if len(rest) != 2 {
			return req, fmt.Errorf("update takes <type> <id> <json>")
		}
		req.ID, rest = rest[0], rest[1:]
	case entity.KindDelete:
		if len(rest) != 1 {
			return req, fmt.Errorf("delete takes <type> <id>")
		}
		req.ID = rest[0]
		return req, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(rest[0])))
	dec.UseNumber()
	if err := dec.Decode(&req.Payload); err != nil {
		return req, fmt.Errorf("invalid json payload: %w", err)
	}
	if req.Payload == nil {
		req.Payload = entity.Record{}
	}
	if req.ID != "" {
		req.Payload["id"] = req.ID
	}
	return req, nil
}

func newApplyCommand(opts *rootOptions) *cobra.Command {
	var noRetry, noValidate bool
	cmd := &cobra.Command{
		Use:   "apply <create|update|delete> <type> [id] [json]",
		Short: "Perform one mutation and wait for the server to confirm it",
		Args:  cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := parseApplyArgs(args)
			if err != nil {
				return err
			}
			eng, cleanup, err := opts.engine()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			m := eng.Manager
			if req.Kind != entity.KindCreate {
				if err = m.SyncEntityType(ctx, req.EntityType); err != nil {
					return err
				}
			}

			mopts := []entity.MutationOption{
				entity.WithAwait(true),
				entity.WithRetryOnFailure(!noRetry),
				entity.WithValidation(!noValidate),
			}
			var result entity.Record
			switch req.Kind {
			case entity.KindCreate:
				result, err = m.CreateEntity(ctx, req.EntityType, req.Payload, mopts...)
			case entity.KindUpdate:
				result, err = m.UpdateEntity(ctx, req.EntityType, req.ID, req.Payload, mopts...)
			case entity.KindDelete:
				err = m.DeleteEntity(ctx, req.EntityType, req.ID, mopts...)
			}
			if err != nil {
				return err
			}

			return newFormatter(opts, cmd.OutOrStdout()).emit(result, nil, func(w io.Writer) {
				if result == nil {
					fmt.Fprintf(w, "deleted %s/%s\n", req.EntityType, req.ID)
					return
				}
				data, _ := json.Marshal(result)
				fmt.Fprintf(w, "%s %s/%s %s\n", req.Kind, req.EntityType, result.ID(), data)
			})
		},
	}
	cmd.Flags().BoolVar(&noRetry, "no-retry", false, "fail on the first error instead of retrying")
	cmd.Flags().BoolVar(&noValidate, "no-validate", false, "skip local validation")
	return cmd
}
