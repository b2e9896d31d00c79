package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/framefighter/ate/meal"
)

// archive is the YAML document backup writes and restore reads.
type archive struct {
	CreatedAt time.Time   `yaml:"created_at"`
	Meals     []meal.Meal `yaml:"meals"`
}

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup [file]",
		Short: "Dump all meals as a YAML archive (stdout by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromViper()
			if err != nil {
				return err
			}
			defer func() { _ = cleanup() }()

			meals, err := store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list meals: %w", err)
			}

			data, err := yaml.Marshal(archive{CreatedAt: time.Now().UTC(), Meals: meals})
			if err != nil {
				return fmt.Errorf("encode archive: %w", err)
			}

			if len(args) == 0 {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(args[0], data, 0o644); err != nil {
				return fmt.Errorf("write archive: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d meals to %s\n", len(meals), args[0])
			return nil
		},
	}
	return cmd
}
