package extract

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"fsgraph/internal/miner"
)

const genericMIME = "application/octet-stream"

// BuiltinExtractor handles plain text in process and types everything else
// by MIME family.
type BuiltinExtractor struct {
	fsmgr    miner.FilesystemManager
	vocab    miner.Vocabulary
	maxBytes int64
}

var _ miner.Extractor = (*BuiltinExtractor)(nil)

// NewBuiltinExtractor reads at most maxBytes of text per file.
func NewBuiltinExtractor(fsmgr miner.FilesystemManager, vocab miner.Vocabulary, maxBytes int64) *BuiltinExtractor {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return &BuiltinExtractor{fsmgr: fsmgr, vocab: vocab, maxBytes: maxBytes}
}

func (b *BuiltinExtractor) Extract(ctx context.Context, task miner.ExtractTask) (*miner.StatementSet, error) {
	r, err := b.fsmgr.Open(task.Path)
	if err != nil {
		return nil, &miner.ExtractionError{Path: task.Path, Reason: miner.ReasonCrash, Err: err}
	}
	defer r.Close()

	data, err := io.ReadAll(io.LimitReader(r, b.maxBytes+1))
	if err != nil {
		return nil, &miner.ExtractionError{Path: task.Path, Reason: miner.ReasonCrash, Err: fmt.Errorf("reading file: %w", err)}
	}
	truncated := int64(len(data)) > b.maxBytes
	if truncated {
		data = data[:b.maxBytes]
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	typ := task.MIME
	if typ == "" || typ == genericMIME {
		typ = sniff(data)
	}
	set := &miner.StatementSet{MIME: typ}

	switch {
	case strings.HasPrefix(typ, "text/"):
		if truncated {
			data = trimPartialRune(data)
		}
		if !utf8.Valid(data) {
			return nil, &miner.ExtractionError{Path: task.Path, Reason: miner.ReasonUnsupportedFormat, Err: fmt.Errorf("text is not valid UTF-8")}
		}
		b.addText(set, string(data))
	case strings.HasPrefix(typ, "image/"):
		set.Types = []string{"nfo:Image"}
	case strings.HasPrefix(typ, "audio/"):
		set.Types = []string{"nfo:Audio"}
	case strings.HasPrefix(typ, "video/"):
		set.Types = []string{"nfo:Video"}
	case typ == "application/pdf":
		set.Types = []string{"nfo:Document", "nfo:PaginatedTextDocument"}
	case typ == "application/zip", typ == "application/x-gzip", typ == "application/gzip", typ == "application/x-tar":
		set.Types = []string{"nfo:Archive"}
	}
	return set, nil
}

func (b *BuiltinExtractor) addText(set *miner.StatementSet, text string) {
	set.Types = []string{"nfo:Document", "nfo:PlainTextDocument"}
	set.Add(b.vocab.PlainTextContent, miner.StringValue(text))
	set.Add("nfo:wordCount", miner.IntValue(int64(len(strings.Fields(text)))))
	lines := strings.Count(text, "\n")
	if text != "" && !strings.HasSuffix(text, "\n") {
		lines++
	}
	set.Add("nfo:lineCount", miner.IntValue(int64(lines)))
	if set.MIME == "text/markdown" {
		if title := markdownTitle(text); title != "" {
			set.Add("nie:title", miner.StringValue(title))
		}
	}
}

// markdownTitle returns the first level-one heading.
func markdownTitle(text string) string {
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

// sniff guesses a MIME type from content, without parameters.
func sniff(data []byte) string {
	typ, _, err := mime.ParseMediaType(http.DetectContentType(data))
	if err != nil {
		return genericMIME
	}
	return typ
}

// trimPartialRune drops a multi-byte sequence cut off by the read limit.
func trimPartialRune(data []byte) []byte {
	for i := 1; i < utf8.UTFMax && i <= len(data); i++ {
		if utf8.RuneStart(data[len(data)-i]) {
			if !utf8.FullRune(data[len(data)-i:]) {
				return data[:len(data)-i]
			}
			return data
		}
	}
	return data
}
