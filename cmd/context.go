package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/continuity/internal/output"
)

var (
	contextListNamespace string
	contextListAll       bool
	contextPruneNS       string
)

var contextCmd = &cobra.Command{
	Use:     "context",
	Aliases: []string{"ctx"},
	Short:   "Inspect stored context entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return contextListRun(cmd.Context(), contextListNamespace, contextListAll)
	},
}

var contextListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List context entries by namespace",
	RunE: func(cmd *cobra.Command, args []string) error {
		return contextListRun(cmd.Context(), contextListNamespace, contextListAll)
	},
}

var contextPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove expired context entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return contextPruneRun(cmd.Context(), contextPruneNS)
	},
}

func init() {
	contextListCmd.Flags().StringVarP(&contextListNamespace, "namespace", "n", "", "Only list this namespace")
	contextListCmd.Flags().BoolVarP(&contextListAll, "all", "a", false, "Include expired entries")
	contextPruneCmd.Flags().StringVarP(&contextPruneNS, "namespace", "n", "", "Only prune this namespace")

	contextCmd.AddCommand(contextListCmd)
	contextCmd.AddCommand(contextPruneCmd)
	rootCmd.AddCommand(contextCmd)
}

func contextNamespaces(ctx context.Context, namespace string) ([]string, error) {
	if namespace != "" {
		return []string{namespace}, nil
	}
	b, err := getBackend()
	if err != nil {
		return nil, err
	}
	return b.ListNamespaces(ctx)
}

func contextListRun(ctx context.Context, namespace string, includeExpired bool) error {
	b, err := getBackend()
	if err != nil {
		return err
	}
	ctx = orBackground(ctx)

	namespaces, err := contextNamespaces(ctx, namespace)
	if err != nil {
		return err
	}

	now := time.Now()
	var rows [][]string
	for _, ns := range namespaces {
		entries, err := b.ListContexts(ctx, ns, includeExpired)
		if err != nil {
			return err
		}
		for _, e := range entries {
			rows = append(rows, []string{
				ns,
				output.Cyan(e.Key),
				output.Bytes(int64(len(e.Value))),
				e.StoredAt.Local().Format("2006-01-02 15:04"),
				output.ExpiryColor(e.ExpiresAt, now),
			})
		}
	}

	if len(rows) == 0 {
		ui.Info("No context entries.")
		return nil
	}

	table := ui.Table([]string{"Namespace", "Key", "Size", "Stored", "Expires"})
	for _, r := range rows {
		_ = table.Append(r)
	}
	_ = table.Render()
	return nil
}

func contextPruneRun(ctx context.Context, namespace string) error {
	b, err := getBackend()
	if err != nil {
		return err
	}
	ctx = orBackground(ctx)

	if dryRun {
		namespaces, err := contextNamespaces(ctx, namespace)
		if err != nil {
			return err
		}
		now := time.Now()
		count := 0
		for _, ns := range namespaces {
			entries, err := b.ListContexts(ctx, ns, true)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if e.Expired(now) {
					ui.DryRunMsg("Would remove %s/%s", ns, e.Key)
					count++
				}
			}
		}
		ui.DryRunMsg("Would remove %d expired entries", count)
		return nil
	}

	removed, err := b.PurgeExpired(ctx, namespace)
	if err != nil {
		return fmt.Errorf("prune contexts: %w", err)
	}
	ui.Success("Removed %d expired entries", removed)
	return nil
}
