// Package writeback serializes properties back into files through an
// external command.
package writeback

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"fsgraph/internal/miner"
)

// ProcessWriter runs
//
//	<command> --file <path> --property <predicate>=<value> ...
//
// and treats any non-zero exit as failure.
type ProcessWriter struct {
	command string
	timeout time.Duration
}

var _ miner.Writer = (*ProcessWriter)(nil)

func NewProcessWriter(command string, timeout time.Duration) *ProcessWriter {
	return &ProcessWriter{command: command, timeout: timeout}
}

func (w *ProcessWriter) Write(ctx context.Context, path string, properties []miner.Property) error {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	args := []string{"--file", path}
	for _, p := range properties {
		args = append(args, "--property", p.Predicate+"="+p.Object.Lexical)
	}

	cmd := exec.CommandContext(ctx, w.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("writing back %s: %w: %s", path, err, msg)
		}
		return fmt.Errorf("writing back %s: %w", path, err)
	}
	return nil
}
