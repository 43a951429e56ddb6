package cmd

import (
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/continuity/internal/output"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools the server exposes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return toolsRun()
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func toolsRun() error {
	d, err := newDispatcher()
	if err != nil {
		return err
	}

	table := ui.Table([]string{"Tool", "Parameters", "Description"})
	for _, def := range d.Registry().List() {
		params := make([]string, 0, len(def.InputSchema.Properties))
		for name := range def.InputSchema.Properties {
			if slices.Contains(def.InputSchema.Required, name) {
				name += "*"
			}
			params = append(params, name)
		}
		sort.Strings(params)
		_ = table.Append([]string{
			output.Cyan(def.Name),
			strings.Join(params, ", "),
			truncate(def.Description, 60),
		})
	}
	_ = table.Render()
	ui.Info("%d tools (* = required)", d.Registry().Len())
	return nil
}
