package cmd

import (
	"log"
	"os"

	"github.com/josephlewis42/shellby/core"
	"github.com/spf13/cobra"
)

// runShell starts the interactive shell on the process's own terminal.
func runShell(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	shellLogger := log.New(cmd.ErrOrStderr(), "[shellby] ", 0)
	shell, err := core.NewShell(core.Options{
		Config: cfg,
		Logger: shellLogger,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	if err != nil {
		return err
	}
	defer shell.Close()

	return shell.Run()
}
