package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

// Config holds the persistent flags every inferdctl subcommand reads:
// flags bind to a shared struct instead of being re-parsed per command.
type Config struct {
	Addr    string
	Timeout time.Duration
}

// buildRootCmd is a convenience for help-only fallbacks and tests that
// don't need a customized Config.
func buildRootCmd() *cobra.Command {
	return buildRootCmdWith(&Config{Addr: defaultAddr(), Timeout: 10 * time.Second})
}

func defaultAddr() string {
	if v := os.Getenv("INFERDCTL_ADDR"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}

// buildRootCmdWith constructs the Cobra command tree wired to the
// client.go fn* actions.
func buildRootCmdWith(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "inferdctl",
		Short:         "Admin client for an inferd model-inference server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfg.Addr, "addr", cfg.Addr, "Base URL of the inferd server (defaults INFERDCTL_ADDR or http://127.0.0.1:8080)")
	root.PersistentFlags().DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "HTTP request timeout")

	listCmd := &cobra.Command{
		Use:     "list",
		Short:   "List every loaded model and its readiness",
		Example: "  inferdctl list",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fnListModels(cfg)
		},
	}
	root.AddCommand(listCmd)

	statusCmd := &cobra.Command{
		Use:     "status <model>",
		Short:   "Show one model's summary",
		Example: "  inferdctl status llama-7b",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fnModelStatus(cfg, args[0])
		},
	}
	root.AddCommand(statusCmd)

	warmupCmd := &cobra.Command{
		Use:     "warmup <model>",
		Short:   "Retry WarmUp for any of a model's instances still waiting on it",
		Example: "  inferdctl warmup llama-7b",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fnWarmup(cfg, args[0])
		},
	}
	root.AddCommand(warmupCmd)

	readyCmd := &cobra.Command{
		Use:     "ready <model>",
		Short:   "Check whether a model has at least one ready instance",
		Example: "  inferdctl ready llama-7b",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fnModelReady(cfg, args[0])
		},
	}
	root.AddCommand(readyCmd)

	var inferFile string
	inferCmd := &cobra.Command{
		Use:     "infer <model>",
		Short:   "Send an inference request read from --file (or stdin) and print the response",
		Example: "  inferdctl infer llama-7b --file request.json\n  cat request.json | inferdctl infer llama-7b",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fnInfer(cfg, args[0], inferFile)
		},
	}
	inferCmd.Flags().StringVar(&inferFile, "file", "", "Path to a JSON infer request body (default: read stdin)")
	root.AddCommand(inferCmd)

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check /healthz and /readyz",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fnHealth(cfg)
		},
	}
	root.AddCommand(healthCmd)

	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(os.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(os.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(os.Stdout, true) }})
	root.AddCommand(completionCmd)

	return root
}
