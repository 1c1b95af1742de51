// Package procutil runs local inference binaries and maps their failures
// onto the gateway error taxonomy.
package procutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/ncecere/voice_gateway/internal/apierr"
)

const stderrTail = 512

// waitDelay bounds how long Wait blocks on output pipes held open by
// grandchildren after the process itself was killed.
const waitDelay = 2 * time.Second

// ParseCommand splits a configured command line such as
// "docker run --rm piper" into argv.
func ParseCommand(command string) ([]string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, errors.New("command is empty")
	}
	argv, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, errors.New("command is empty")
	}
	return argv, nil
}

// Command builds an exec.Cmd that is killed when ctx ends.
func Command(ctx context.Context, argv []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.WaitDelay = waitDelay
	return cmd
}

// Result holds the captured output of a finished process.
type Result struct {
	Stdout []byte
	Stderr []byte
}

// Run executes argv to completion, feeding stdin when non-nil.
func Run(ctx context.Context, backend string, argv []string, stdin io.Reader) (Result, error) {
	if len(argv) == 0 {
		return Result{}, apierr.Internal(errors.New("empty argv"))
	}
	cmd := Command(ctx, argv)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = stdin
	}
	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		return res, MapExit(ctx, backend, err, res.Stderr)
	}
	return res, nil
}

// MapExit classifies a process failure. Context expiry wins over the exit
// status since a killed process reports a signal.
func MapExit(ctx context.Context, backend string, err error, stderr []byte) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return apierr.Classify(backend, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		detail := Tail(stderr)
		if detail == "" {
			detail = exitErr.Error()
		}
		return apierr.Rejected(backend, fmt.Sprintf("exit status %d: %s", exitErr.ExitCode(), detail))
	}
	return apierr.Unavailable(backend, err)
}

// Tail returns the last non-empty portion of process output.
func Tail(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > stderrTail {
		s = s[len(s)-stderrTail:]
	}
	return s
}

// CheckBinary reports whether the executable exists on PATH.
func CheckBinary(backend, name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return apierr.Unavailable(backend, err)
	}
	return nil
}

// CheckFile reports whether a model file is present and readable.
func CheckFile(backend, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return apierr.Unavailable(backend, fmt.Errorf("model file: %w", err))
	}
	if info.IsDir() {
		return apierr.Unavailable(backend, fmt.Errorf("model file %s is a directory", path))
	}
	return nil
}

// WriteTemp stores data in a fresh file under dir and returns its path.
func WriteTemp(dir, pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", apierr.Internal(fmt.Errorf("create temp file: %w", err))
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", apierr.Internal(fmt.Errorf("write temp file: %w", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", apierr.Internal(fmt.Errorf("close temp file: %w", err))
	}
	return f.Name(), nil
}
