// Package session owns an attached engine.
//
// Commands run one at a time on a background worker. Close stops accepting
// commands, waits for the worker to finish the ones already queued and only
// then reverts the process and releases it. Cancelling the parent context
// instead fails the queued commands with ErrClosed.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"rngtrainer/config"
	"rngtrainer/diag"
	"rngtrainer/process"
	"rngtrainer/process_host"
	"rngtrainer/trainer"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"golang.org/x/sync/errgroup"
)

var ErrClosed = errors.New("session closed")

const queueDepth = 16

type command struct {
	fn   func(*trainer.Engine) error
	done chan error
}

type Session struct {
	proc   process.Process
	engine *trainer.Engine
	revert bool

	mu     sync.RWMutex
	closed bool
	cmds   chan command
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error

	log *logger.Logger
}

// Attach opens the configured process, injects the engine and installs the
// draft watcher when the configuration describes it. On failure the process
// is closed and nothing is left patched.
func Attach(ctx context.Context, cfg config.Config, open process_host.Opener, notify diag.Notifier) (*Session, error) {
	reporter := diag.New(cfg.NotifyCooldown, notify)
	opts, err := cfg.Options(reporter)
	if err != nil {
		return nil, err
	}

	proc, err := open(cfg.Process, cfg.Module)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Process, err)
	}

	s, err := New(ctx, proc, opts, cfg.RevertOnDetach)
	if err != nil {
		proc.Close()
		return nil, err
	}
	return s, nil
}

// New injects an engine into proc and starts the worker. The session owns
// proc from here on.
func New(ctx context.Context, proc process.Process, opts trainer.Options, revert bool) (*Session, error) {
	log := logger.NewLogger(coloransi.Color(coloransi.Cyan, coloransi.Black, "session"))

	engine, err := trainer.New(proc, opts)
	if err != nil {
		return nil, err
	}

	if opts.Draft.Configured() {
		if err := engine.InstallDraftWatcher(); err != nil {
			log.Warn("draft watcher not installed: ", err)
		}
	}

	s := &Session{
		proc:   proc,
		engine: engine,
		revert: revert,
		cmds:   make(chan command, queueDepth),
		log:    log,
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.group, s.ctx = errgroup.WithContext(s.ctx)
	s.group.Go(s.run)

	log.Infoln("attached to pid", proc.GetPID())
	return s, nil
}

func (s *Session) run() error {
	for {
		if s.ctx.Err() != nil {
			s.reject()
			return nil
		}
		select {
		case <-s.ctx.Done():
			s.reject()
			return nil
		case cmd, ok := <-s.cmds:
			if !ok {
				return nil
			}
			cmd.done <- cmd.fn(s.engine)
		}
	}
}

// reject stops new commands and answers the queued ones with ErrClosed
func (s *Session) reject() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	for {
		select {
		case cmd, ok := <-s.cmds:
			if !ok {
				return
			}
			cmd.done <- ErrClosed
		default:
			return
		}
	}
}

// Go queues fn and returns a channel receiving its result
func (s *Session) Go(fn func(*trainer.Engine) error) <-chan error {
	done := make(chan error, 1)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		done <- ErrClosed
		return done
	}

	select {
	case s.cmds <- command{fn: fn, done: done}:
	case <-s.ctx.Done():
		done <- ErrClosed
	}
	return done
}

// Do runs fn on the worker and waits for it. A cancelled ctx stops the
// wait, not fn.
func (s *Session) Do(ctx context.Context, fn func(*trainer.Engine) error) error {
	done := s.Go(fn)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		select {
		case err := <-done:
			return err
		default:
			return ErrClosed
		}
	}
}

func (s *Session) PID() process.ProcessID {
	return s.proc.GetPID()
}

// Close drains the queue, optionally reverts and closes the process
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.cmds)
		s.mu.Unlock()

		s.group.Wait()
		s.cancel()

		if s.revert {
			if err := s.engine.Revert(); err != nil {
				s.closeErr = fmt.Errorf("revert: %w", err)
			}
		}
		if err := s.proc.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
		s.log.Infoln("detached")
	})
	return s.closeErr
}
