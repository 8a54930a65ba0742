package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"modelprobe/internal/config"
)

// buildRootCmdWith constructs the Cobra command tree wired to the fn* actions.
func buildRootCmdWith(opts *Options) *cobra.Command {
	root := &cobra.Command{
		Use:           "modelprobe",
		Short:         "Launch each model in its own container and record whether it works",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", opts.ConfigPath, "Config file (.yaml|.json|.toml; defaults MODELPROBE_CONFIG)")
	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "Log level: debug|info|warn|error (defaults MODELPROBE_LOG_LEVEL or info)")
	root.PersistentFlags().StringVar(&opts.LogFormat, "log-format", opts.LogFormat, "Log format: console|json")

	// action adapts a config-consuming action to cobra's RunE.
	action := func(fn func(ctx context.Context, cfg config.Config, out io.Writer) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return fn(cmd.Context(), cfg, cmd.OutOrStdout())
		}
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Probe every model in the models file, one container at a time",
		Example: "  modelprobe run --models models.yaml\n" +
			"  modelprobe run -c modelprobe.yaml --listen :9108 --cooldown -1",
		Args: cobra.NoArgs,
		RunE: action(func(ctx context.Context, cfg config.Config, out io.Writer) error { return fnRun(ctx, cfg, out) }),
	}
	fs := runCmd.Flags()
	opts.bindString(fs, "models", "Model spec file (YAML/JSON/TOML or a previous ledger)", func(c *config.Config) *string { return &c.ModelsFile })
	opts.bindString(fs, "image", "Backend container image", func(c *config.Config) *string { return &c.Image })
	opts.bindBool(fs, "pull", "Pull the image before the first launch", func(c *config.Config) *bool { return &c.PullImage })
	opts.bindBool(fs, "no-gpu", "Do not request GPU devices for containers", func(c *config.Config) *bool { return &c.NoGPU })
	opts.bindString(fs, "cache-dir", "Host model weight cache mounted into containers", func(c *config.Config) *string { return &c.CacheDir })
	opts.bindInt(fs, "ready-timeout", "Default readiness budget in seconds", func(c *config.Config) *int { return &c.ReadyTimeoutSeconds })
	opts.bindInt(fs, "cooldown", "Seconds to pause between launches (0 uses the default, negative disables)", func(c *config.Config) *int { return &c.CooldownSeconds })
	opts.bindString(fs, "registry", "Compatibility registry file", func(c *config.Config) *string { return &c.RegistryPath })
	opts.bindString(fs, "registry-backend", "Registry backend: file|redis", func(c *config.Config) *string { return &c.RegistryBackend })
	opts.bindString(fs, "redis-addr", "Redis address for the redis registry backend", func(c *config.Config) *string { return &c.RedisAddr })
	opts.bindString(fs, "ledger", "Results ledger output path", func(c *config.Config) *string { return &c.LedgerPath })
	opts.bindString(fs, "working", "Working-subset output path", func(c *config.Config) *string { return &c.WorkingPath })
	opts.bindString(fs, "metrics-textfile", "Write Prometheus metrics to this file after the run", func(c *config.Config) *string { return &c.MetricsTextfile })
	opts.bindString(fs, "listen", "Serve /status, /ledger, /events and /metrics on this address", func(c *config.Config) *string { return &c.Listen })
	opts.bindInt(fs, "linger", "Seconds to keep the status server up after the run (interrupt ends it early)", func(c *config.Config) *int { return &c.LingerSeconds })
	root.AddCommand(runCmd)

	sweepCmd := &cobra.Command{Use: "sweep", Short: "Remove leftover containers with the name prefix", Args: cobra.NoArgs,
		RunE: action(func(ctx context.Context, cfg config.Config, out io.Writer) error { return fnSweep(ctx, cfg, out) })}
	opts.bindString(sweepCmd.Flags(), "prefix", "Container name prefix", func(c *config.Config) *string { return &c.NamePrefix })
	root.AddCommand(sweepCmd)

	root.AddCommand(&cobra.Command{Use: "snapshot", Short: "Print one GPU memory snapshot as JSON", Args: cobra.NoArgs,
		RunE: action(func(ctx context.Context, cfg config.Config, out io.Writer) error { return fnSnapshot(ctx, cfg, out) })})

	// registry group
	registryCmd := &cobra.Command{Use: "registry", Short: "Inspect or edit the compatibility registry", RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("registry requires a subcommand: list|reset|mark")
	}}
	opts.bindString(registryCmd.PersistentFlags(), "registry", "Compatibility registry file", func(c *config.Config) *string { return &c.RegistryPath })
	regList := &cobra.Command{Use: "list", Short: "List registry records", Args: cobra.NoArgs,
		RunE: action(func(ctx context.Context, cfg config.Config, out io.Writer) error { return fnRegistryList(ctx, cfg, out) })}
	regReset := &cobra.Command{Use: "reset <model-id>", Short: "Forget a verdict so the model is tested again", Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return action(func(ctx context.Context, cfg config.Config, out io.Writer) error {
				return fnRegistryReset(ctx, cfg, args[0], out)
			})(cmd, args)
		}}
	var note string
	regMark := &cobra.Command{Use: "mark <model-id> <status>", Short: "Set a verdict by hand", Example: "  modelprobe registry mark org/model likely_broken --note \"segfaults on load\"", Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return action(func(ctx context.Context, cfg config.Config, out io.Writer) error {
				return fnRegistryMark(ctx, cfg, args[0], args[1], note, out)
			})(cmd, args)
		}}
	regMark.Flags().StringVar(&note, "note", "", "Free-form reason stored with the record")
	registryCmd.AddCommand(regList, regReset, regMark)
	root.AddCommand(registryCmd)

	// cache group
	cacheCmd := &cobra.Command{Use: "cache", Short: "Inspect or prune the model weight cache", RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("cache requires a subcommand: list|evict")
	}}
	opts.bindString(cacheCmd.PersistentFlags(), "cache-dir", "Host model weight cache", func(c *config.Config) *string { return &c.CacheDir })
	cacheListCmd := &cobra.Command{Use: "list", Short: "List cached models with their size", Args: cobra.NoArgs,
		RunE: action(func(ctx context.Context, cfg config.Config, out io.Writer) error { return fnCacheList(ctx, cfg, out) })}
	cacheEvictCmd := &cobra.Command{Use: "evict <model-id>", Short: "Delete the cached weights of a model", Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return action(func(ctx context.Context, cfg config.Config, out io.Writer) error {
				return fnCacheEvict(ctx, cfg, args[0], out)
			})(cmd, args)
		}}
	cacheCmd.AddCommand(cacheListCmd, cacheEvictCmd)
	root.AddCommand(cacheCmd)

	// completion command
	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(cmd.OutOrStdout()) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(cmd.OutOrStdout()) }})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(cmd.OutOrStdout(), true) }})
	completionCmd.AddCommand(&cobra.Command{Use: "powershell", Short: "PowerShell completion", RunE: func(cmd *cobra.Command, args []string) error {
		return root.GenPowerShellCompletionWithDesc(cmd.OutOrStdout())
	}})
	root.AddCommand(completionCmd)
	root.CompletionOptions.DisableDefaultCmd = true

	return root
}
