package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/zeusync/entitysync/internal/syncer"
)

// response is the envelope written in json format.
type response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

type formatter struct {
	format string
	w      io.Writer
}

func newFormatter(opts *rootOptions, w io.Writer) *formatter {
	return &formatter{format: opts.Format, w: w}
}

// emit writes data as a json envelope, or through text otherwise.
func (f *formatter) emit(data any, failure error, text func(w io.Writer)) error {
	if f.format == "json" {
		resp := response{Status: "ok", Data: data}
		if failure != nil {
			resp.Status = "error"
			resp.Error = failure.Error()
		}
		enc := json.NewEncoder(f.w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	text(f.w)
	if failure != nil {
		fmt.Fprintf(f.w, "error: %v\n", failure)
	}
	return nil
}

func writeStatus(w io.Writer, st syncer.Status) {
	fmt.Fprintf(w, "pending operations:  %d\n", st.PendingOperations)
	fmt.Fprintf(w, "queue length:        %d\n", st.QueueLength)
	fmt.Fprintf(w, "processing:          %t\n", st.IsProcessing)
	fmt.Fprintf(w, "optimistic updates:  %d\n", st.OptimisticUpdates)
	fmt.Fprintf(w, "deferred retries:    %d\n", st.DeferredRetries)
	if st.NextRetryAt != nil {
		fmt.Fprintf(w, "next retry at:       %s\n", st.NextRetryAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "conflicts:           %d\n", st.Conflicts)
	fmt.Fprintf(w, "audit log size:      %d\n", st.AuditLogSize)
	fmt.Fprintf(w, "notifications:       %d published, %d failed, %d panics\n",
		st.Notifications.Published, st.Notifications.Errors, st.Notifications.Panics)
	for _, t := range slices.Sorted(maps.Keys(st.LastSync)) {
		fmt.Fprintf(w, "last sync %-10s %s\n", t+":", st.LastSync[t].Format(time.RFC3339))
	}
}
