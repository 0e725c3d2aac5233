// File: cmd/profiles.go
package cmd

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/feedwalker/internal/signals"
)

func newProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "Lists the signal profiles walks can run with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			registry, err := signals.Load(cfg.Signals().File)
			if err != nil {
				return err
			}
			return listProfiles(cmd.OutOrStdout(), registry)
		},
	}
}

func listProfiles(out io.Writer, registry *signals.Registry) error {
	t := newTable(out)
	t.AppendHeader(table.Row{"Profile", "Platform", "Mode", "Entry URL"})
	for _, name := range registry.Names() {
		p, err := registry.Get(name)
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{p.Name, p.Platform, p.Mode, p.EntryURL})
	}
	t.Render()
	return nil
}
