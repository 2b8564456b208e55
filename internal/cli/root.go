package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/yairfalse/threatforge/pkg/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	cfgFile  string
	logLevel string
	catalogs []string
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the threatforge command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "threatforge",
		Short: "Threat composition and emergent behavior engine",
		Long: `ThreatForge composes threats from atomic behavioral components, ticks
them under a per-tick performance budget, and reports the emergent
behaviors discovered between their components.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	flags.StringSliceVar(&opts.catalogs, "catalog", nil, "catalog file or directory, repeatable")

	rootCmd.AddCommand(newRunCommand(opts))
	rootCmd.AddCommand(newValidateCommand(opts))
	rootCmd.AddCommand(newConfigCommand(opts))
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

// loadConfig reads the config file, binds flags onto their config keys and
// appends any --catalog paths.
func (o *rootOptions) loadConfig(cmd *cobra.Command, bindings map[string]string) (*config.Config, error) {
	loader := config.NewLoader().WithConfigFile(o.cfgFile)
	v := loader.Viper()

	if f := cmd.Flags().Lookup("log-level"); f != nil {
		if err := v.BindPFlag("log_level", f); err != nil {
			return nil, fmt.Errorf("failed to bind log-level: %w", err)
		}
	}
	for key, flag := range bindings {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", flag, err)
		}
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	cfg.Catalog.Paths = append(cfg.Catalog.Paths, o.catalogs...)
	return cfg, nil
}

// newLogger builds a console logger for interactive use at debug level and
// a JSON production logger otherwise.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var zcfg zap.Config
	if lvl == zapcore.DebugLevel {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.OutputPaths = []string{"stderr"}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}
