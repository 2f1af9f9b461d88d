package main

import (
	"errors"
	"fmt"

	internal "github.com/ZanzyTHEbar/zimkit/zimkit"
	"github.com/ZanzyTHEbar/zimkit/zimkit/accessor"
	"github.com/ZanzyTHEbar/zimkit/zimkit/config"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var errNoArchive = errors.New("no archive given and archive.path is not configured")

// app carries flag values and the loaded configuration between a command's
// pre-run and its body.
type app struct {
	configPath string
	namespace  string
	logLevel   string

	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   internal.DefaultAppName,
		Short: "Inspect and read ZIM archives",
		Long: `zimkit reads entries out of ZIM archives.

Paths take the form /<namespace>/<title>; titles are matched exactly and
redirects are followed. The archive argument may be omitted when
archive.path is set in the config file or ARCHIVE_PATH.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default searches ., .., etc/zimkit, ~/.config/zimkit)")
	root.PersistentFlags().StringVarP(&a.namespace, "namespace", "n", "", "primary namespace (default from config, then A)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")

	root.AddCommand(
		newInfoCmd(a),
		newGetCmd(a),
		newListCmd(a),
		newRandomCmd(a),
		newMainCmd(a),
		newResolveCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("namespace") {
		cfg.Archive.Namespace = a.namespace
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = internal.NewLoggerTo(cmd.ErrOrStderr(), cfg.Log.Level)
	return nil
}

// open loads the archive named by args[0], or the configured one.
func (a *app) open(args []string) (*accessor.Accessor, error) {
	path := a.cfg.Archive.Path
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		return nil, errNoArchive
	}
	acc := accessor.New(a.cfg.AccessorOptions(a.logger)...)
	if err := acc.Load(path); err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return acc, nil
}
