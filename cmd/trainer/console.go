package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"rngtrainer/config"
	"rngtrainer/session"
	"rngtrainer/trainer"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/kballard/go-shellquote"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type console struct {
	sess *session.Session
	cfg  config.Config
	out  io.Writer
	root *cobra.Command
	quit bool
}

func newConsole(sess *session.Session, cfg config.Config, out io.Writer) *console {
	c := &console{sess: sess, cfg: cfg, out: out}
	c.root = c.commands()
	return c
}

// do runs fn on the session worker
func (c *console) do(fn func(*trainer.Engine) error) error {
	return c.sess.Do(context.Background(), fn)
}

func (c *console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) errorf(err error) {
	fmt.Fprintln(c.out, coloransi.Foreground(coloransi.Red, "error:"), err)
}

// exec runs one console line
func (c *console) exec(input string) error {
	args, err := shellquote.Split(input)
	if err != nil {
		return fmt.Errorf("parse %q: %w", input, err)
	}
	if len(args) == 0 {
		return nil
	}

	resetFlags(c.root)
	c.root.SetArgs(args)
	return c.root.Execute()
}

// resetFlags puts every flag back to its default; cobra keeps values between executions
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func (c *console) completer(line string) []string {
	fields := strings.Fields(line)
	var out []string

	if len(fields) <= 1 && !strings.HasSuffix(line, " ") {
		for _, cmd := range c.root.Commands() {
			if strings.HasPrefix(cmd.Name(), line) {
				out = append(out, cmd.Name())
			}
		}
		return out
	}

	prefix := ""
	if !strings.HasSuffix(line, " ") {
		prefix = fields[len(fields)-1]
		line = strings.TrimSuffix(line, prefix)
	}
	for _, cat := range trainer.Categories() {
		if strings.HasPrefix(strings.ToLower(cat.String()), strings.ToLower(prefix)) {
			out = append(out, line+cat.String())
		}
	}
	return out
}

func (c *console) run(history string) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(c.completer)

	if history != "" {
		if f, err := os.Open(history); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}

	c.printf("attached to pid %d, type help for commands\n", c.sess.PID())

	for !c.quit {
		input, err := line.Prompt("rng> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if err := c.exec(input); err != nil {
			c.errorf(err)
		}
	}

	if history != "" {
		if f, err := os.Create(history); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}
	return nil
}
