package main

import (
	"github.com/spf13/cobra"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and evict response cache generations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "generations",
			Short: "List stored generations and their entry counts",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := a.openCache()
				if err != nil {
					return err
				}
				defer c.Store().Close()

				names, err := c.Generations(cmd.Context())
				if err != nil {
					return err
				}
				type generation struct {
					Name    string `json:"name"`
					Entries int    `json:"entries"`
					Current bool   `json:"current"`
				}
				out := make([]generation, 0, len(names))
				for _, name := range names {
					keys, err := c.Store().Keys(cmd.Context(), name)
					if err != nil {
						return err
					}
					out = append(out, generation{
						Name:    name,
						Entries: len(keys),
						Current: name == c.StaticGeneration() || name == c.DynamicGeneration(),
					})
				}
				return printJSON(cmd.OutOrStdout(), out)
			},
		},
		&cobra.Command{
			Use:   "evict",
			Short: "Delete every generation except the current static and dynamic ones",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := a.openCache()
				if err != nil {
					return err
				}
				defer c.Store().Close()

				evicted, err := c.EvictStale(cmd.Context())
				if err != nil {
					return err
				}
				if evicted == nil {
					evicted = []string{}
				}
				return printJSON(cmd.OutOrStdout(), map[string][]string{"evicted": evicted})
			},
		},
	)
	return cmd
}
