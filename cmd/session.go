package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/continuity/internal/output"
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	Aliases: []string{"sessions"},
	Short:   "Inspect stored sessions",
	Long:    "List, show, and delete sessions saved through the session_* tools.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionListRun(cmd.Context())
	},
}

var sessionListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionListRun(cmd.Context())
	},
}

var sessionShowVersion int

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session version's content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionShowRun(cmd.Context(), args[0], sessionShowVersion)
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a session and all its versions",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionDeleteRun(cmd.Context(), args[0])
	},
}

func init() {
	sessionShowCmd.Flags().IntVar(&sessionShowVersion, "version", 0, "Version to show (default latest)")

	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
	rootCmd.AddCommand(sessionCmd)
}

func sessionListRun(ctx context.Context) error {
	b, err := getBackend()
	if err != nil {
		return err
	}

	sessions, err := b.ListSessions(orBackground(ctx))
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		ui.Info("No sessions. Create one with the session_create tool.")
		return nil
	}

	table := ui.Table([]string{"ID", "Name", "Versions", "Size", "Updated"})
	for _, s := range sessions {
		size := "-"
		if v, ok := s.Version(s.LatestVersion()); ok {
			size = output.Bytes(v.Size)
		}
		_ = table.Append([]string{
			output.Cyan(s.ID),
			s.Name,
			strconv.Itoa(s.LatestVersion()),
			size,
			s.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	_ = table.Render()
	return nil
}

func sessionShowRun(ctx context.Context, id string, version int) error {
	b, err := getBackend()
	if err != nil {
		return err
	}

	snap, err := b.ReadSessionVersion(orBackground(ctx), id, version)
	if err != nil {
		return err
	}

	ui.Info("%s %s (version %d of %d, %s)",
		output.Cyan(snap.Session.ID), snap.Session.Name,
		snap.Version.Version, snap.Session.LatestVersion(), snap.Version.Codec)

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, snap.Content, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(snap.Content)
	}
	_, _ = fmt.Fprintln(ui.Out, pretty.String())
	return nil
}

func sessionDeleteRun(ctx context.Context, id string) error {
	b, err := getBackend()
	if err != nil {
		return err
	}
	ctx = orBackground(ctx)

	sess, err := b.GetSession(ctx, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete session %s (%s, %d versions)", sess.ID, sess.Name, sess.LatestVersion())
		return nil
	}

	if _, err := b.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	ui.Success("Deleted session: %s", sess.ID)
	return nil
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
