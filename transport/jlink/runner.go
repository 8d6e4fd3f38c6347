package jlink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"
)

// Runner executes the J-Link tools. Tests replace it.
type Runner interface {
	// Run executes name to completion, feeding it stdin, and returns its
	// combined output.
	Run(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, error)

	// Start launches a long-running process.
	Start(ctx context.Context, name string, args []string) (Process, error)
}

// Process is a started background tool.
type Process interface {
	Stop() error
}

// ExecRunner runs the tools with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

func (ExecRunner) Start(ctx context.Context, name string, args []string) (Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = 2 * time.Second
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	once sync.Once
	done chan struct{}
	err  error
}

func (p *execProcess) Stop() error {
	var err error
	p.once.Do(func() {
		select {
		case <-p.done:
			err = p.err
			return
		default:
		}
		if kerr := p.cmd.Process.Kill(); kerr != nil {
			err = kerr
			return
		}
		<-p.done
		var exitErr *exec.ExitError
		if p.err != nil && !errors.As(p.err, &exitErr) {
			err = p.err
		}
	})
	return err
}
