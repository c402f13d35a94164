package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"rngtrainer/config"
	"rngtrainer/process"
	"rngtrainer/process_host"
	"rngtrainer/session"
	"rngtrainer/trainer"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/spf13/cobra"
	"github.com/stevedomin/termtable"
)

var (
	configPath  string
	processFlag string
	moduleFlag  string
	debugFlag   bool
	noRevert    bool
	waitFlag    time.Duration
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, coloransi.Color(coloransi.Red, coloransi.Black, err.Error()))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "trainer",
		Short:        "Seed and steer the random number generator of a running game",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			sess, err := attach(ctx, cfg)
			if err != nil {
				return err
			}

			c := newConsole(sess, cfg, cmd.OutOrStdout())
			if cfg.Debug {
				c.do(func(e *trainer.Engine) error {
					c.dumpPatches(e, false)
					return nil
				})
			}
			runErr := c.run(historyPath())
			if err := sess.Close(); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", config.DefaultFile, "configuration file")
	flags.StringVar(&processFlag, "process", "", "executable name of the game (overrides config)")
	flags.StringVar(&moduleFlag, "module", "", "module holding the call sites (overrides config)")
	flags.BoolVar(&debugFlag, "debug", false, "dump every patch after attaching")
	flags.BoolVar(&noRevert, "no-revert", false, "leave the game patched on exit")
	root.Flags().DurationVar(&waitFlag, "wait", 0, "keep retrying while the game is still loading")

	root.AddCommand(newProcessesCommand(), newInitConfigCommand())
	return root
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("process") {
		cfg.Process = processFlag
	}
	if flags.Changed("module") {
		cfg.Module = moduleFlag
	}
	if flags.Changed("debug") {
		cfg.Debug = debugFlag
	}
	if flags.Changed("no-revert") {
		cfg.RevertOnDetach = !noRevert
	}
	return cfg, cfg.Validate()
}

func notify(title, message string) {
	fmt.Fprintln(os.Stderr, coloransi.Color(coloransi.White, coloransi.Red, title+":"), message)
}

// attach retries retryable failures until --wait runs out
func attach(ctx context.Context, cfg config.Config) (*session.Session, error) {
	deadline := time.Now().Add(waitFlag)
	for {
		sess, err := session.Attach(ctx, cfg, process_host.Open, notify)
		if err == nil {
			return sess, nil
		}
		if !trainer.IsRetryable(err) || time.Now().After(deadline) {
			return nil, err
		}

		fmt.Fprintln(os.Stderr, coloransi.Foreground(coloransi.Yellow, "not ready, retrying:"), err)
		select {
		case <-ctx.Done():
			return nil, errors.Join(ctx.Err(), err)
		case <-time.After(2 * time.Second):
		}
	}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".rngtrainer_history")
}

func newProcessesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "processes [name]",
		Short: "List running processes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			finder, err := process_host.Finder()
			if err != nil {
				return err
			}

			var all []process.ProcessInfo
			if len(args) == 1 {
				all, err = finder.FindProcessByName(args[0])
			} else {
				all, err = finder.FindAllProcesses()
			}
			if err != nil {
				return err
			}

			t := termtable.NewTable(nil, &termtable.TableOptions{Padding: 2})
			t.SetHeader([]string{"PID", "PPID", "Threads", "Name"})
			for _, p := range all {
				t.AddRow([]string{fmt.Sprint(p.PID), fmt.Sprint(p.PPID), fmt.Sprint(p.Threads), p.Name})
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}
}

func newInitConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write the default configuration to --config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("%s already exists", configPath)
			}
			if err := config.Default().Save(configPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", configPath)
			return nil
		},
	}
}
