package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mergelab/cmine/internal/config"
	"github.com/mergelab/cmine/internal/store"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new cmine workspace",
	Long: `Initialize a new cmine workspace in the current directory.
This creates a .cmine directory holding the configuration and, for the
bbolt and sqlite drivers, the database.`,
	Args: cobra.NoArgs,
	Run:  runInit,
}

var (
	initDriver   string
	initURI      string
	initDatabase string
)

func init() {
	initCmd.Flags().StringVar(&initDriver, "driver", config.DefaultDriver, "Store driver (bbolt, sqlite, mongo)")
	initCmd.Flags().StringVar(&initURI, "uri", "", "MongoDB connection string (mongo driver)")
	initCmd.Flags().StringVar(&initDatabase, "database", store.DefaultMongoDatabase, "MongoDB database name (mongo driver)")
}

func runInit(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	switch initDriver {
	case store.DriverBbolt, store.DriverSQLite:
	case store.DriverMongo:
		if initURI == "" {
			exitError("--uri is required for the mongo driver")
		}
	default:
		exitError("unknown driver %q", initDriver)
	}

	cwd, err := os.Getwd()
	if err != nil {
		exitError("%v", err)
	}
	if _, err := config.FindRoot(cwd); err == nil {
		exitError("cmine workspace already exists")
	}

	cfg, err := config.Initialize(cwd, initDriver)
	if err != nil {
		exitError("failed to initialize config: %v", err)
	}
	if initDriver == store.DriverMongo {
		cfg.Store.URI = initURI
		cfg.Store.Database = initDatabase
		if err := cfg.Save(); err != nil {
			os.RemoveAll(cfg.WorkspacePath())
			exitError("failed to save config: %v", err)
		}
	}

	// Opening the store creates the database and checks connectivity
	st, err := openStore(ctx, cfg)
	if err != nil {
		os.RemoveAll(cfg.WorkspacePath())
		exitError("failed to open store: %v", err)
	}
	st.Close()

	fmt.Printf("Initialized empty cmine workspace in %s/\n", config.WorkspaceDir)
	fmt.Printf("Store driver: %s\n", cfg.Store.Driver)
}
