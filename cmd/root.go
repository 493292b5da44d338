package cmd

import (
	"errors"
	"io/fs"
	"log"

	"github.com/josephlewis42/shellby/core/config"
	"github.com/spf13/cobra"
)

var cfgPath string

// loadConfig reads the configuration named by --config, or the built in
// defaults if the flag wasn't given.
func loadConfig() (*config.Configuration, error) {
	if cfgPath == "" {
		return config.Default(), nil
	}

	configuration, err := config.Load(cfgPath)

	if errors.Is(err, fs.ErrNotExist) {
		log.Println("Couldn't load config: did you run init?")
	}

	return configuration, err
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "shellby",
	Short: "An interactive shell with job control",
	Long: `An interactive shell that runs pipelines as process groups, hands the
terminal to foreground jobs and tracks stopped and background jobs.`,
	Args: cobra.ExactArgs(0),
	RunE: runShell,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config path, built in defaults if empty")
}
