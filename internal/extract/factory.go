package extract

import (
	"fsgraph/internal/config"
	"fsgraph/internal/miner"
)

// NewExtractorFromConfig builds the extractor chain: the builtin extractor,
// fronted by the configured command for the MIME types it claims.
func NewExtractorFromConfig(cfg config.ExtractionConfig, fsmgr miner.FilesystemManager, vocab miner.Vocabulary) miner.Extractor {
	builtin := NewBuiltinExtractor(fsmgr, vocab, cfg.MaxBytes)
	if cfg.Command == "" {
		return builtin
	}
	return NewChain(NewProcessExtractor(cfg.Command, vocab), cfg.CommandMIMETypes, builtin)
}
