package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/sdata/internal/ui"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the sdata server",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := recordsClient.Health(context.Background())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}
		if jsonOutput {
			if err := printJSON(map[string]string{"status": status}); err != nil {
				return err
			}
		} else {
			fmt.Printf("Health: %s\n", ui.RenderOK(status))
		}
		if status != "ok" {
			return fmt.Errorf("unhealthy: %s", status)
		}
		return nil
	},
}

var reapCmd = &cobra.Command{
	Use:     "reap",
	Short:   "Remove expired records now",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := recordsClient.Reap(context.Background())
		if err != nil {
			return fmt.Errorf("reaping: %w", err)
		}
		if jsonOutput {
			return printJSON(map[string]int{"reaped": n})
		}
		fmt.Printf("Removed %d expired records\n", n)
		return nil
	},
}
