package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ecodex/offline/internal/models"
)

func newQueueCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage the pending operation queue",
	}
	cmd.AddCommand(newQueueListCmd(a), newQueueAddCmd(a), newQueuePurgeCmd(a))
	return cmd
}

func newQueueListCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List unsynced operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			var ops []*models.PendingOperation
			if all {
				ops, err = store.ListOperations(cmd.Context())
			} else {
				ops, err = store.ListPendingOperations(cmd.Context())
			}
			if err != nil {
				return err
			}
			if ops == nil {
				ops = []*models.PendingOperation{}
			}
			return printJSON(cmd.OutOrStdout(), ops)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include synced operations")
	return cmd
}

func newQueueAddCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "add <json>",
		Short:   "Enqueue a JSON payload",
		Example: `  offlinectl queue add '{"species":"heron","count":2}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := json.RawMessage(args[0])
			if !json.Valid(payload) {
				return fmt.Errorf("payload is not valid JSON")
			}

			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			op, err := store.EnqueueOperation(cmd.Context(), payload)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), op)
		},
	}
}

func newQueuePurgeCmd(a *app) *cobra.Command {
	var before string
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete synced operations acknowledged before a cutoff",
		Long: `Delete synced operations whose acknowledgement is older than --before.
--before takes an RFC 3339 timestamp or a duration such as 72h, meaning
that long ago. Unsynced operations are never deleted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cutoff, err := parseCutoff(before, time.Now())
			if err != nil {
				return err
			}

			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.PurgeSynced(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"purged": n,
				"before": cutoff.UTC().Format(time.RFC3339),
			})
		},
	}
	cmd.Flags().StringVar(&before, "before", "0s", "RFC 3339 time or duration ago")
	return cmd
}

// parseCutoff accepts an RFC 3339 timestamp, a duration before now, or a
// Unix timestamp in milliseconds.
func parseCutoff(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Time{}, fmt.Errorf("invalid --before %q: want RFC 3339 time, duration or Unix milliseconds", s)
}
