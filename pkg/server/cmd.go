package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/heathcliff26/buildhook/pkg/config"
	"github.com/heathcliff26/buildhook/pkg/version"
	"github.com/spf13/cobra"
)

const (
	flagNameConfig   = "config"
	flagNameLogLevel = "log"
	flagNameEnv      = "env"
	flagNameConsume  = "consume"
)

func Execute() {
	err := NewServerCmd().Execute()
	if err != nil {
		slog.Error("Failed to execute command", "err", err)
		os.Exit(1)
	}
}

func NewServerCmd() *cobra.Command {
	cobra.AddTemplateFunc(
		"ProgramName", func() string {
			return version.Name
		},
	)

	rootCmd := &cobra.Command{
		Use:   version.Name,
		Short: version.Name + " receives webhooks and queues build triggers",
		Run: func(cmd *cobra.Command, args []string) {
			err := run(cmd, false)
			if err != nil {
				fmt.Println("Fatal: " + err.Error())
				os.Exit(1)
			}
		},
	}

	addConfigFlags(rootCmd)
	rootCmd.Flags().Bool(flagNameConsume, false, "Also run the trigger consumer in this process")

	rootCmd.AddCommand(
		newConsumeCmd(),
		version.NewCommand(),
	)

	return rootCmd
}

func newConsumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Process queued build triggers",
		Run: func(cmd *cobra.Command, args []string) {
			err := run(cmd, true)
			if err != nil {
				fmt.Println("Fatal: " + err.Error())
				os.Exit(1)
			}
		},
	}
	addConfigFlags(cmd)
	return cmd
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringP(flagNameConfig, "c", "", "Config file to use")
	cmd.Flags().String(flagNameLogLevel, "", "Override the log level given in the config file")
	cmd.Flags().Bool(flagNameEnv, false, "Expand enviroment variables in the config file")
}

// Load the config and run either the gateway or, when consumeOnly is set, only the consumer
func run(cmd *cobra.Command, consumeOnly bool) error {
	configPath, err := cmd.Flags().GetString(flagNameConfig)
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	logLevel, err := cmd.Flags().GetString(flagNameLogLevel)
	if err != nil {
		return fmt.Errorf("failed to get log level flag: %w", err)
	}
	env, err := cmd.Flags().GetBool(flagNameEnv)
	if err != nil {
		return fmt.Errorf("failed to get env flag: %w", err)
	}
	withConsumer := consumeOnly
	if !consumeOnly {
		withConsumer, err = cmd.Flags().GetBool(flagNameConsume)
		if err != nil {
			return fmt.Errorf("failed to get consume flag: %w", err)
		}
	}

	cfg, err := config.LoadConfig(configPath, env, logLevel)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err := a.Close()
		if err != nil {
			slog.Error("Failed to close resources", "err", err)
		}
	}()

	if consumeOnly {
		if cfg.Queue.Backend == config.QueueBackendMemory {
			return fmt.Errorf("the memory queue backend can only be consumed by the gateway process, use --%s", flagNameConsume)
		}
		return a.consumer().Run(ctx)
	}

	if cfg.Queue.Backend == config.QueueBackendMemory && !withConsumer {
		slog.Info("Memory queue backend selected, running the consumer in-process")
		withConsumer = true
	}
	return a.run(ctx, withConsumer)
}
