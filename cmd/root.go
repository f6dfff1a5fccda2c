// Package cmd provides the command-line interface of the FDS engine.
package cmd

import (
	"fmt"

	"fdsengine/bootstrap"
	"fdsengine/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags shared by all commands
var (
	outputJSON bool
	configFile string
	noColor    bool
	verbose    bool
)

// NewRootCmd creates the fdsengine command with all subcommands
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fdsengine",
		Short: "Rule-based transaction fraud detection engine",
		Long: `fdsengine evaluates financial transactions against a catalog of detection
scenarios. Rules combine per-field comparisons, windowed aggregations and cache
lookups in AND/OR trees; confirmed detections update Redis caches and LABEL or
BLOCK rules raise an incident.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default: ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Write engine logs to stdout")

	rootCmd.AddCommand(newEvaluateCmd())
	rootCmd.AddCommand(newRulesCmd())
	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

// loadCLIConfig loads configuration and returns a logger that stays silent
// unless --verbose is set.
func loadCLIConfig() (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := bootstrap.InitConfig(configFile)
	if err != nil {
		return nil, nil, err
	}
	if !verbose {
		return cfg, zap.NewNop().Sugar(), nil
	}
	_, sugar, err := bootstrap.InitLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, sugar, nil
}
