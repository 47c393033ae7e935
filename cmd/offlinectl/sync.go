package main

import (
	"context"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/ecodex/offline/internal/connectivity"
	offsync "github.com/ecodex/offline/internal/sync"
)

func newSyncCmd(a *app) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Submit every eligible pending operation to the origin once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			source := a.credentials().Token
			if token != "" {
				tok := token
				source = func(context.Context) (string, error) { return tok, nil }
			}
			opts := []offsync.SubmitterOption{offsync.WithToken(offsync.DefaultTokenHeader, source)}
			submitter := offsync.NewHTTPSubmitter(&http.Client{}, a.cfg.ResolveURL(a.cfg.SubmitPath), opts...)

			coordCfg := offsync.DefaultConfig()
			coordCfg.Retry = offsync.RetryPolicy{
				MaxAttempts: a.cfg.RetryMaxAttempts,
				BaseDelay:   a.cfg.RetryBaseDelay,
				MaxDelay:    a.cfg.RetryMaxDelay,
			}
			coordinator := offsync.NewCoordinator(store, submitter, connectivity.NewMonitor(true), coordCfg)

			result, err := coordinator.Drain(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "auth token sent with each submission, overriding the stored one")
	return cmd
}
