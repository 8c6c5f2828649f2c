package miner

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// SearchResult is a file whose content matched a full-text query.
type SearchResult struct {
	URI        string
	ResourceID string
	ContentID  string
}

// Resource is a DataObject with its URI.
type Resource struct {
	ID  string
	URI string
}

// Description is every statement about a file and its content.
type Description struct {
	Resource
	ContentID  string
	Statements []Statement
}

// Reader answers read-only questions directly from the store. Reads never
// observe a partially applied event.
type Reader struct {
	store Store
	vocab Vocabulary
}

func NewReader(store Store, vocab Vocabulary) *Reader {
	return &Reader{store: store, vocab: vocab}
}

// Search maps full-text matches back to the files they are stored as.
func (r *Reader) Search(ctx context.Context, text string, limit int) ([]SearchResult, error) {
	subjects, err := r.store.Search(ctx, text, limit)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}

	var results []SearchResult
	seen := make(map[string]bool)
	for _, subject := range subjects {
		dataObject := subject
		content := ""
		stored, err := r.store.Query(ctx, Pattern{Subject: subject, Predicate: r.vocab.IsStoredAs})
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", subject, err)
		}
		if len(stored) > 0 {
			dataObject = stored[0].Object.Lexical
			content = subject
		}
		if seen[dataObject] {
			continue
		}
		uri, err := r.url(ctx, dataObject)
		if err != nil {
			return nil, err
		}
		if uri == "" {
			continue
		}
		seen[dataObject] = true
		results = append(results, SearchResult{URI: uri, ResourceID: dataObject, ContentID: content})
	}
	return results, nil
}

// Find returns the DataObject for a URI, or nil if it is not indexed.
func (r *Reader) Find(ctx context.Context, uri string) (*Resource, error) {
	obj := StringValue(uri)
	stmts, err := r.store.Query(ctx, Pattern{Predicate: r.vocab.URL, Object: &obj, Graph: r.vocab.FilesystemGraph})
	if err != nil {
		return nil, fmt.Errorf("finding %s: %w", uri, err)
	}
	if len(stmts) == 0 {
		return nil, nil
	}
	return &Resource{ID: stmts[0].Subject, URI: uri}, nil
}

// Describe returns every statement about the file at uri and about the
// content stored as it, or nil if the file is not indexed.
func (r *Reader) Describe(ctx context.Context, uri string) (*Description, error) {
	res, err := r.Find(ctx, uri)
	if err != nil || res == nil {
		return nil, err
	}
	desc := &Description{Resource: *res}

	own, err := r.store.Query(ctx, Pattern{Subject: res.ID})
	if err != nil {
		return nil, fmt.Errorf("describing %s: %w", uri, err)
	}
	desc.Statements = append(desc.Statements, own...)

	ref := RefValue(res.ID)
	content, err := r.store.Query(ctx, Pattern{Predicate: r.vocab.IsStoredAs, Object: &ref})
	if err != nil {
		return nil, fmt.Errorf("finding content of %s: %w", uri, err)
	}
	for _, link := range content {
		desc.ContentID = link.Subject
		stmts, err := r.store.Query(ctx, Pattern{Subject: link.Subject})
		if err != nil {
			return nil, fmt.Errorf("describing content of %s: %w", uri, err)
		}
		desc.Statements = append(desc.Statements, stmts...)
	}
	return desc, nil
}

// Children lists the DataObjects contained in a directory resource,
// sorted by URI.
func (r *Reader) Children(ctx context.Context, id string) ([]Resource, error) {
	ref := RefValue(id)
	stmts, err := r.store.Query(ctx, Pattern{Predicate: r.vocab.BelongsToContainer, Object: &ref, Graph: r.vocab.FilesystemGraph})
	if err != nil {
		return nil, fmt.Errorf("listing children of %s: %w", id, err)
	}
	out := make([]Resource, 0, len(stmts))
	for _, st := range stmts {
		uri, err := r.url(ctx, st.Subject)
		if err != nil {
			return nil, err
		}
		out = append(out, Resource{ID: st.Subject, URI: uri})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out, nil
}

// Sources lists the data sources with their availability.
func (r *Reader) Sources(ctx context.Context) (map[string]bool, error) {
	folder := RefValue(r.vocab.IndexedFolder)
	stmts, err := r.store.Query(ctx, Pattern{Predicate: r.vocab.Type, Object: &folder, Graph: r.vocab.FilesystemGraph})
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	out := make(map[string]bool, len(stmts))
	for _, st := range stmts {
		uri, err := r.url(ctx, st.Subject)
		if err != nil {
			return nil, err
		}
		avail, err := r.store.Query(ctx, Pattern{Subject: st.Subject, Predicate: r.vocab.Available})
		if err != nil {
			return nil, fmt.Errorf("reading availability: %w", err)
		}
		out[uri] = len(avail) > 0 && avail[0].Object.Lexical == "true"
	}
	return out, nil
}

// StateCounts counts files by persisted extraction state.
func (r *Reader) StateCounts(ctx context.Context) (map[string]int, error) {
	stmts, err := r.store.Query(ctx, Pattern{Predicate: r.vocab.ExtractionState, Graph: r.vocab.FilesystemGraph})
	if err != nil {
		return nil, fmt.Errorf("counting states: %w", err)
	}
	out := make(map[string]int)
	for _, st := range stmts {
		label := st.Object.Lexical
		if strings.HasPrefix(label, "failed") {
			out["failed"]++
		}
		out[label]++
	}
	return out, nil
}

func (r *Reader) url(ctx context.Context, id string) (string, error) {
	stmts, err := r.store.Query(ctx, Pattern{Subject: id, Predicate: r.vocab.URL, Graph: r.vocab.FilesystemGraph})
	if err != nil {
		return "", fmt.Errorf("reading url of %s: %w", id, err)
	}
	if len(stmts) == 0 {
		return "", nil
	}
	return stmts[0].Object.Lexical, nil
}
