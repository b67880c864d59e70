package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"petsim/internal/config"
	"petsim/internal/logger"
	"petsim/internal/store"
)

// app carries the flag state shared by every subcommand.
type app struct {
	v *viper.Viper
}

// NewRootCmd builds the petctl command tree.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("PETCTL")
	v.AutomaticEnv()
	a := &app{v: v}

	root := &cobra.Command{
		Use:   "petctl",
		Short: "petctl operates the pet simulation backend",
		Long: `petctl talks directly to the petsim database.

Common workflows:

  Apply migrations:
    petctl migrate

  Inspect the recurring jobs and force one to run:
    petctl jobs list -o yaml
    petctl jobs trigger pet_decay

  Help an owner look for a pet that ran away:
    petctl pets search 42 --owner 7
    petctl pets restore 42 --owner 7

Configuration is read from the environment (DATABASE_DRIVER, POSTGRES_DSN,
SQLITE_PATH, ...) layered over the YAML file given by --config or PETSIM_CONFIG.
The output format may also be set with PETCTL_OUTPUT.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", os.Getenv("PETSIM_CONFIG"), "YAML config file")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	root.PersistentFlags().StringP("output", "o", "table", "output format: table, yaml or json")
	_ = v.BindPFlag("output", root.PersistentFlags().Lookup("output"))

	root.AddCommand(newMigrateCmd(a), newJobsCmd(a), newPetsCmd(a))
	return root
}

func (a *app) config() (config.Config, error) {
	cfg, err := config.Load(a.v.GetString("config"))
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// backend opens the configured store. The caller closes it.
func (a *app) backend(ctx context.Context) (store.Backend, config.Config, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, config.Config{}, err
	}
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("open %s store: %w", cfg.DatabaseDriver, err)
	}
	return st, cfg, nil
}

func (a *app) logger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	return logger.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel)
}

func (a *app) output() (string, error) {
	switch out := a.v.GetString("output"); out {
	case "table", "yaml", "json":
		return out, nil
	default:
		return "", fmt.Errorf("unknown output format %q", out)
	}
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, cfg, err := a.backend(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}
			cmd.Printf("migrations applied (%s)\n", cfg.DatabaseDriver)
			return nil
		},
	}
}
