// Package buckets inspects and prunes cache buckets.
package buckets

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/k3a/html2text"
	"github.com/labstack/gommon/bytes"
	"github.com/spf13/cobra"

	"github.com/ajspantry/pantry-offline/internal/app"
	"github.com/ajspantry/pantry-offline/internal/cachestore"
	"github.com/ajspantry/pantry-offline/internal/conf"
	"github.com/ajspantry/pantry-offline/internal/errors"
)

const previewLimit = 2000

// Command creates the buckets command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buckets",
		Short: "Inspect and prune cache buckets",
	}
	cmd.AddCommand(listCommand(settings), purgeCommand(settings), showCommand(settings))
	return cmd
}

func withApp(settings *conf.Settings, fn func(a *app.App) error) error {
	a, err := app.New(settings, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func listCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list [bucket]",
		Short: "List buckets, or the entries of one bucket",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(settings, func(a *app.App) error {
				if len(args) == 1 {
					return listEntries(cmd, a, args[0])
				}
				return listBuckets(cmd, a)
			})
		},
	}
}

func listBuckets(cmd *cobra.Command, a *app.App) error {
	ctx := cmd.Context()
	names, err := a.Storage.Keys(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "BUCKET\tENTRIES\tSIZE\tCURRENT")
	for _, name := range names {
		b, err := a.Storage.Open(ctx, name)
		if err != nil {
			return err
		}
		stats, err := cachestore.Summarize(ctx, b)
		if err != nil {
			return err
		}
		current := ""
		if name == a.Manager.Version() {
			current = "*"
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", name, stats.Entries, bytes.Format(stats.Bytes), current)
	}
	return w.Flush()
}

func listEntries(cmd *cobra.Command, a *app.App, name string) error {
	ctx := cmd.Context()
	b, err := openExisting(cmd, a, name)
	if err != nil {
		return err
	}
	keys, err := b.Keys(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STATUS\tSIZE\tSTORED\tURL")
	for _, k := range keys {
		snap, err := b.Match(ctx, k)
		if err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", snap.Status, bytes.Format(snap.Size()),
			snap.StoredAt.Format("2006-01-02 15:04:05"), k.URL)
	}
	return w.Flush()
}

func openExisting(cmd *cobra.Command, a *app.App, name string) (cachestore.Bucket, error) {
	ok, err := a.Storage.Has(cmd.Context(), name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Newf("bucket %q does not exist", name).
			Component("buckets").
			Category(errors.CategoryNotFound).
			Build()
	}
	return a.Storage.Open(cmd.Context(), name)
}

func purgeCommand(settings *conf.Settings) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every bucket except the current version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(settings, func(a *app.App) error {
				ctx := cmd.Context()
				names, err := a.Storage.Keys(ctx)
				if err != nil {
					return err
				}
				for _, name := range names {
					if name == a.Manager.Version() && !all {
						continue
					}
					if _, err := a.Storage.Delete(ctx, name); err != nil {
						return err
					}
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", name)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "also delete the current version")
	return cmd
}

func showCommand(settings *conf.Settings) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "show <bucket> <url>",
		Short: "Print a cached response",
		Long:  "Show prints the status, headers and body of a cached response. HTML bodies are rendered as plain text unless --raw is given.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(settings, func(a *app.App) error {
				b, err := openExisting(cmd, a, args[0])
				if err != nil {
					return err
				}
				key, err := cachestore.KeyForURL(args[1])
				if err != nil {
					return err
				}
				snap, err := b.Match(cmd.Context(), key)
				if err != nil {
					return err
				}
				return printSnapshot(cmd.OutOrStdout(), key, snap, raw)
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the body as stored")
	return cmd
}

func printSnapshot(w io.Writer, key cachestore.RequestKey, snap *cachestore.Snapshot, raw bool) error {
	_, _ = fmt.Fprintf(w, "%s\nStatus: %d\nStored: %s\n", key, snap.Status, snap.StoredAt.Format("2006-01-02 15:04:05"))
	for _, name := range slices.Sorted(maps.Keys(snap.Header)) {
		_, _ = fmt.Fprintf(w, "%s: %s\n", name, strings.Join(snap.Header[name], ", "))
	}
	_, _ = fmt.Fprintln(w)

	body := string(snap.Body)
	if !raw && strings.Contains(snap.Header.Get("Content-Type"), "text/html") {
		body = html2text.HTML2Text(body)
	}
	if len(body) > previewLimit {
		body = body[:previewLimit] + "\n..."
	}
	_, err := fmt.Fprintln(w, body)
	return err
}
