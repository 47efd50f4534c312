package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tendant/xtal-pipeline/internal/app"
	"github.com/tendant/xtal-pipeline/internal/logging"
)

const version = "0.1.0"

var (
	paramsPath string
	logLevel   string
	env        app.Env
)

// rootCmd is the root command
var rootCmd = &cobra.Command{
	Use:     "xtalproc",
	Short:   "Serial crystallography image processing",
	Version: version,
	Long: `Process still diffraction images one at a time: spot finding, indexing,
space group determination, refinement and integration, followed by an
optional acceptance filter. Every image is independent; a failing image
never stops the others.`,
	Example: `  # Screen images by spot count
  $ xtalproc triage /data/run12/*.cbf

  # Integrate with a settings file, 8 images at a time
  $ xtalproc process -p params.yaml -j 8 /data/run12/*.cbf

  # Serve the HTTP API
  $ xtalproc serve --addr :8080`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		env = app.EnvFromOS()
		if logLevel == "" {
			logLevel = env.LogLevel
		}
		logging.Init(os.Stderr, logLevel)
	},
}

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&paramsPath, "params", "p", "", "YAML settings file (default $XTAL_PARAMS)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (default $LOG_LEVEL)")

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(triageCmd)
	rootCmd.AddCommand(serveCmd)
}
