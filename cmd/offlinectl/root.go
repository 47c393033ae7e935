package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ecodex/offline/internal/cache"
	"github.com/ecodex/offline/internal/config"
	"github.com/ecodex/offline/internal/credentials"
	"github.com/ecodex/offline/internal/db"
	"github.com/ecodex/offline/internal/logging"
)

// app carries what every subcommand needs. The config is loaded once in
// the root's PersistentPreRunE.
type app struct {
	cfg     *config.Config
	dataDir string
	verbose bool
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "offlinectl",
		Short: "Inspect and maintain the offline data directory",
		Long: `offlinectl works directly on the data directory of an offline daemon.
Stop the daemon first: the response cache is locked while it runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelWarn
			if a.verbose {
				level = logging.LevelDebug
			}
			logging.Init(cmd.ErrOrStderr(), level)

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("data-dir") {
				cfg.DataDir = a.dataDir
			}
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "data directory (OFFLINE_DATA_DIR)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(
		newQueueCmd(a),
		newEntitiesCmd(a),
		newCacheCmd(a),
		newSyncCmd(a),
		newTokenCmd(a),
		newVersionCmd(),
	)
	return root
}

// openStore opens the sqlite store. The caller closes it.
func (a *app) openStore(ctx context.Context) (*db.Store, error) {
	store := db.NewStore(a.cfg.DataDir)
	if err := store.Initialize(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// openCache opens the bbolt response cache. The caller closes its store.
func (a *app) openCache() (*cache.Cache, error) {
	store, err := cache.OpenBolt(filepath.Join(a.cfg.DataDir, cache.BoltFileName))
	if err != nil {
		return nil, err
	}
	return cache.New(store, a.cfg.StaticGeneration(), a.cfg.DynamicGeneration(),
		cache.WithMaxEntrySize(a.cfg.CacheMaxEntryBytes)), nil
}

func (a *app) credentials() *credentials.Store {
	return credentials.NewStore(a.cfg.DataDir, a.cfg.MachineID)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "offlinectl v%s\n", Version)
		},
	}
}
