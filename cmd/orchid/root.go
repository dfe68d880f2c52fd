package main

import (
	"github.com/spf13/cobra"

	"orchid/internal/config"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "orchid",
		Short:         "Agent orchestration engine",
		Long:          "orchid plans, executes and observes bounded agent runs, with sandboxed code execution and recursive delegation.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")

	loadConfig := func() (*config.Config, error) {
		return config.Load(configPath)
	}

	root.AddCommand(newRunCommand(loadConfig))
	root.AddCommand(newServeCommand(loadConfig))
	return root
}
