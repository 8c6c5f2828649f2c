package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"fsgraph/internal/miner"
)

// ExitUnsupportedFormat is the exit status an extractor command uses for
// files it cannot handle.
const ExitUnsupportedFormat = 2

// ProcessExtractor runs an external command per file:
//
//	<command> --file <path> [--mime <type>] --output-format json-ld
//
// and parses the JSON-LD it prints.
type ProcessExtractor struct {
	command      string
	mimeProperty string
}

var _ miner.Extractor = (*ProcessExtractor)(nil)

func NewProcessExtractor(command string, vocab miner.Vocabulary) *ProcessExtractor {
	return &ProcessExtractor{command: command, mimeProperty: vocab.MIMEType}
}

func (p *ProcessExtractor) Extract(ctx context.Context, task miner.ExtractTask) (*miner.StatementSet, error) {
	args := []string{"--file", task.Path}
	if task.MIME != "" {
		args = append(args, "--mime", task.MIME)
	}
	args = append(args, "--output-format", "json-ld")

	cmd := exec.CommandContext(ctx, p.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		reason := miner.ReasonCrash
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == ExitUnsupportedFormat {
			reason = miner.ReasonUnsupportedFormat
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return nil, &miner.ExtractionError{Path: task.Path, Reason: reason, Err: err}
	}

	set, err := ParseJSONLD(stdout.Bytes(), p.mimeProperty)
	if err != nil {
		return nil, &miner.ExtractionError{Path: task.Path, Reason: miner.ReasonInvalidMetadata, Err: err}
	}
	if set.MIME == "" {
		set.MIME = task.MIME
	}
	return set, nil
}
