package extract

import (
	"context"
	"strings"

	"fsgraph/internal/miner"
)

// Chain sends tasks whose MIME type the command claims to the command and
// everything else to the fallback. An empty claim list claims every type.
type Chain struct {
	command  miner.Extractor
	claims   []string
	fallback miner.Extractor
}

var _ miner.Extractor = (*Chain)(nil)

func NewChain(command miner.Extractor, claims []string, fallback miner.Extractor) *Chain {
	return &Chain{command: command, claims: claims, fallback: fallback}
}

func (c *Chain) Extract(ctx context.Context, task miner.ExtractTask) (*miner.StatementSet, error) {
	if c.command != nil && c.claimed(task.MIME) {
		return c.command.Extract(ctx, task)
	}
	return c.fallback.Extract(ctx, task)
}

func (c *Chain) claimed(typ string) bool {
	if len(c.claims) == 0 {
		return true
	}
	for _, prefix := range c.claims {
		if strings.HasPrefix(typ, prefix) {
			return true
		}
	}
	return false
}
