/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/muninndb/muninn/pkg/arena"
	"github.com/muninndb/muninn/pkg/config"
	"github.com/muninndb/muninn/pkg/store"
)

// app carries the opened region and store for the subcommands.
type app struct {
	cfg      *config.Config
	logger   log.Logger
	arena    *arena.FileArena
	store    *store.Store
	registry *prometheus.Registry
}

var current *app

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "muninn",
	Short: "Muninn - persistent crash-log zone store",
	Long: `Muninn keeps crash dumps, console output, trace records and operator
messages in a reserved region that survives the process writing it, with
Reed-Solomon redundancy against media corruption.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		regionPath, _ := cmd.Flags().GetString("region")

		var cfg *config.Config
		if config.ConfigExists(cfgPath) {
			loaded, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			cfg = loaded
		} else {
			cfg = config.DefaultConfig()
		}
		if regionPath != "" {
			cfg.Region.Path = regionPath
		}

		logger := newLogger(cfg.Logging.Level)

		a, err := arena.OpenFileArena(cfg.Region.Path, cfg.Region.Size)
		if err != nil {
			return err
		}

		registry := prometheus.NewRegistry()
		sc := cfg.StoreConfig()
		sc.Logger = logger
		sc.Registerer = registry

		st, err := store.Open(sc, a)
		if err != nil {
			a.Close()
			return fmt.Errorf("failed to open region: %w", err)
		}

		current = &app{
			cfg:      cfg,
			logger:   logger,
			arena:    a,
			store:    st,
			registry: registry,
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if current == nil {
			return nil
		}
		if err := current.store.Close(); err != nil && err != store.ErrClosed {
			return err
		}
		return current.arena.Close()
	},
}

func newLogger(lvl string) log.Logger {
	l := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	l = log.With(l, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	var opt level.Option
	switch lvl {
	case "debug":
		opt = level.AllowDebug()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		opt = level.AllowInfo()
	}
	return level.NewFilter(l, opt)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", config.GetDefaultConfigPath(), "Path to the config file")
	rootCmd.PersistentFlags().StringP("region", "r", "", "Override the region file path")
}
