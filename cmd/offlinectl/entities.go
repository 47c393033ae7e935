package main

import (
	"github.com/spf13/cobra"

	"github.com/ecodex/offline/internal/models"
)

func newEntitiesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "Inspect cached reference entities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cached entities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			entities, err := store.ListCachedEntities(cmd.Context())
			if err != nil {
				return err
			}
			if entities == nil {
				entities = []*models.CachedEntity{}
			}
			return printJSON(cmd.OutOrStdout(), entities)
		},
	})
	return cmd
}
