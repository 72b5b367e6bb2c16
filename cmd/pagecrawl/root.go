package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagecrawl/internal/config"
	"github.com/JakeFAU/pagecrawl/internal/crawler"
	"github.com/JakeFAU/pagecrawl/internal/logging"
	"github.com/JakeFAU/pagecrawl/internal/server"
)

// application is the part of server.App the commands use.
type application interface {
	Crawler() crawler.Crawler
	Run(ctx context.Context) error
	Close()
}

// buildApp is the application factory. Tests replace it.
var buildApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (application, error) {
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return app, nil
}

type runtimeKey struct{}

type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	var cfgFile, envFile string
	cmd := &cobra.Command{
		Use:           "pagecrawl",
		Short:         "Fetch a web page and return it as HTML, Markdown, links and media.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvFile(envFile, cmd.Flags().Changed("env-file")); err != nil {
				return err
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.NewWithOptions(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey{}, &runtime{cfg: cfg, logger: logger}))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, err := runtimeFrom(cmd.Context()); err == nil {
				_ = rt.logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded into the environment before config")
	cmd.AddCommand(newServeCmd(), newCrawlCmd())
	return cmd
}

// loadEnvFile exports the variables in path without overriding ones
// already set. A missing default file is not an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func runtimeFrom(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey{}).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}
