package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/framefighter/ate/meal"
)

func newRestoreCmd() *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Load meals from a YAML archive into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read archive: %w", err)
			}
			var arc archive
			if err := yaml.Unmarshal(data, &arc); err != nil {
				return fmt.Errorf("decode archive: %w", err)
			}

			store, cleanup, err := storeFromViper()
			if err != nil {
				return err
			}
			defer func() { _ = cleanup() }()

			ctx := cmd.Context()
			restored, skipped := 0, 0
			for _, m := range arc.Meals {
				if err := m.Validate(); err != nil {
					return fmt.Errorf("archive entry %q: %w", m.Name, err)
				}
				if !overwrite {
					if _, err := store.Get(ctx, m.Name); err == nil {
						skipped++
						continue
					} else if !errors.Is(err, meal.ErrNotFound) {
						return err
					}
				}
				if err := store.Put(ctx, m); err != nil {
					return fmt.Errorf("restore %q: %w", m.Name, err)
				}
				restored++
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Restored %d meals, skipped %d existing\n", restored, skipped)
			return nil
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace meals that already exist in the store.")
	return cmd
}
