// Package queue inspects the offline change queue.
package queue

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajspantry/pantry-offline/internal/app"
	"github.com/ajspantry/pantry-offline/internal/conf"
	"github.com/ajspantry/pantry-offline/internal/errors"
	"github.com/ajspantry/pantry-offline/internal/syncqueue"
)

// Command creates the queue command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the offline change queue",
	}
	cmd.AddCommand(listCommand(settings), addCommand(settings), syncCommand(settings), pruneCommand(settings))
	return cmd
}

func withQueue(settings *conf.Settings, fn func(q *syncqueue.Queue) error) error {
	if !settings.SyncQueue.Enabled {
		return errors.Newf("the offline queue is disabled (syncqueue.enabled)").
			Component("queue").
			Category(errors.CategoryConfiguration).
			Build()
	}
	a, err := app.New(settings, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a.Queue)
}

func listCommand(settings *conf.Settings) *cobra.Command {
	var pending bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued changes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withQueue(settings, func(q *syncqueue.Queue) error {
				items, err := q.List(cmd.Context(), pending)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "ID\tKIND\tQUEUED\tSYNCED")
				for _, it := range items {
					synced := "-"
					if it.SyncedAt != nil {
						synced = it.SyncedAt.Format("2006-01-02 15:04:05")
					}
					_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", it.ID, it.Kind, it.QueuedAt.Format("2006-01-02 15:04:05"), synced)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "only show changes not yet synced")
	return cmd
}

func addCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "add <kind> [json-payload]",
		Short: "Queue a change",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload json.RawMessage
			if len(args) == 2 {
				payload = json.RawMessage(args[1])
			}
			return withQueue(settings, func(q *syncqueue.Queue) error {
				item, err := q.Enqueue(cmd.Context(), args[0], payload)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), item.ID)
				return err
			})
		},
	}
}

func syncCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Mark pending changes as synced",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withQueue(settings, func(q *syncqueue.Queue) error {
				res, err := q.Sync(cmd.Context())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d change(s) synced\n", res.Synced)
				return err
			})
		},
	}
}

func pruneCommand(settings *conf.Settings) *cobra.Command {
	olderThan := conf.Duration(7 * 24 * time.Hour)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete synced changes older than --older-than",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withQueue(settings, func(q *syncqueue.Queue) error {
				n, err := q.Prune(cmd.Context(), olderThan.Std())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d change(s) pruned\n", n)
				return err
			})
		},
	}
	cmd.Flags().Var(&olderThan, "older-than", "age of synced changes to delete, e.g. 168h")
	return cmd
}
