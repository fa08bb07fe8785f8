package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/wardend/wardend/shared/daemon"
	"github.com/wardend/wardend/shared/logger"
	"github.com/wardend/wardend/shared/sig"
)

// supervisor runs a command as a daemon: it daemonizes itself, forks the
// command, holds the pidfile on its behalf, forwards termination and reaps
// the child.
type supervisor struct {
	name    string
	pidDir  string
	command []string

	childPid atomic.Int64
}

func newSupervisor(name string, pidDir string, command []string) *supervisor {
	return &supervisor{
		name:    name,
		pidDir:  pidDir,
		command: command,
	}
}

// run performs the startup sequence and then enters the wait loop. It only
// returns on startup failure; shutdown happens through terminate.
func (s *supervisor) run() error {
	// Install the termination handler before anything worth cleaning up
	// exists, so a signal racing startup is still honored. SIGHUP is
	// registered so a reload signal is absorbed rather than fatal.
	err := sig.SetHandler(int(unix.SIGTERM), s.terminate)
	if err != nil {
		return fmt.Errorf("Failed to register termination handler: %w", err)
	}

	err = sig.SetHandler(int(unix.SIGHUP), func(signo int) {
		logger.Debug("Ignoring SIGHUP")
	})
	if err != nil {
		return fmt.Errorf("Failed to register SIGHUP handler: %w", err)
	}

	err = daemon.PreventCore()
	if err != nil {
		logger.Warn("Failed to disable core files", logger.Ctx{"err": err})
	}

	err = daemon.InitWithConfig(s.name, daemon.Config{PidDir: s.pidDir})
	if err != nil {
		return fmt.Errorf("Failed to start daemon: %w", err)
	}

	// Fork the command. The exec family used underneath searches PATH.
	child := exec.Command(s.command[0], s.command[1:]...)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr

	err = child.Start()
	if err != nil {
		daemon.Close()
		return fmt.Errorf("Failed to execute %q: %w", s.command[0], err)
	}

	s.childPid.Store(int64(child.Process.Pid))
	logger.Info("Supervising command", logger.Ctx{"command": s.command, "pid": child.Process.Pid})

	// Reap the specific child. Wait retries interrupted waits itself, so
	// only a real error or the child's death gets through. The goroutine
	// needs no shutdown coordination: every exit path below goes through
	// terminate, which ends the process.
	reaped := make(chan error, 1)
	go func() {
		reaped <- child.Wait()
	}()

	for {
		select {
		case <-sig.Wake():
			// A pending SIGTERM terminates the process inside here.
			sig.DispatchAll()

		case err := <-reaped:
			var exitErr *exec.ExitError
			if err != nil && !errors.As(err, &exitErr) {
				logger.Error("Failed to wait for child", logger.Ctx{"err": err})
			} else {
				logger.Info("Child exited", logger.Ctx{"pid": s.childPid.Load()})
			}

			s.stop()
		}
	}
}

// terminate is the termination handler. A real signal is forwarded to the
// entire process group so the child (and its children) terminate with us;
// signo zero marks a synthetic internal call and is not broadcast. Either
// way the pidfile is removed exactly once, here on the exit path.
func (s *supervisor) terminate(signo int) {
	if signo != 0 && s.childPid.Load() != 0 {
		_ = unix.Kill(0, unix.Signal(signo))
	}

	daemon.Close()
	os.Exit(0)
}

// stop performs the shutdown sequence without broadcasting any signal.
func (s *supervisor) stop() {
	s.terminate(0)
}
