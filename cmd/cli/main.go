package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dvloznov/pricepaid-importer/internal/app"
	"github.com/dvloznov/pricepaid-importer/internal/config"
	"github.com/dvloznov/pricepaid-importer/internal/logger"
)

// cli carries state shared by every subcommand.
type cli struct {
	log zerolog.Logger
	cfg *config.Config
	app *app.App
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{log: logger.New()}
	root := c.rootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		c.log.Error().Err(err).Msg("Command failed")
		c.close()
		os.Exit(1)
	}
	c.close()
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "cli",
		Short:         "Price Paid importer operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		c.importCommand(),
		c.statusCommand(),
		c.inspectCommand(),
		c.fetchCommand(),
		c.runsCommand(),
	)
	return root
}

// setup loads configuration and wires the importer. Commands call it lazily
// so that help output never requires a valid environment.
func (c *cli) setup(cmd *cobra.Command) error {
	if c.app != nil {
		return nil
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.log = log

	a, err := app.New(c.context(cmd), cfg, log)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	c.app = a
	return nil
}

// context returns the command context carrying the configured logger.
func (c *cli) context(cmd *cobra.Command) context.Context {
	return logger.WithContext(cmd.Context(), c.log)
}

func (c *cli) close() {
	if c.app == nil {
		return
	}
	if err := c.app.Close(); err != nil {
		c.log.Warn().Err(err).Msg("Failed to close clients")
	}
}
