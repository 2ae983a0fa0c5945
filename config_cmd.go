package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/authpipe/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE:  runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if resolvedCfg == nil {
		return errors.New("no configuration loaded")
	}

	if flagJSON {
		shown := *resolvedCfg
		if shown.Service.APIKey != "" {
			shown.Service.APIKey = "********"
		}

		if shown.StoreKey != "" {
			shown.StoreKey = "********"
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		return enc.Encode(shown)
	}

	return config.RenderEffective(resolvedCfg, cmd.OutOrStdout())
}
