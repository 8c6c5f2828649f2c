package miner

import (
	"context"
	"fmt"
	"time"
)

// load rebuilds the identity table and the data sources from the store.
// Extractions that were pending or in progress are resubmitted by the
// startup crawl.
func (s *Synchronizer) load(ctx context.Context) error {
	v := s.vocab
	g := v.FilesystemGraph

	urls, err := s.store.Query(ctx, Pattern{Predicate: v.URL, Graph: g})
	if err != nil {
		return fmt.Errorf("querying urls: %w", err)
	}
	if len(urls) == 0 {
		return nil
	}

	entries := make(map[string]*Entry, len(urls))
	for _, st := range urls {
		path, err := PathFromURI(st.Object.Lexical)
		if err != nil {
			s.logger.Warn("skipping resource with bad url", "id", st.Subject, "error", err)
			continue
		}
		entries[st.Subject] = &Entry{Path: path, ResourceID: st.Subject}
	}

	roots := make(map[string]bool)
	removable := make(map[string]bool)
	available := make(map[string]bool)
	unmounted := make(map[string]time.Time)

	each := func(predicate string, fn func(e *Entry, st Statement)) error {
		stmts, err := s.store.Query(ctx, Pattern{Predicate: predicate, Graph: g})
		if err != nil {
			return fmt.Errorf("querying %s: %w", predicate, err)
		}
		for _, st := range stmts {
			if e := entries[st.Subject]; e != nil {
				fn(e, st)
			}
		}
		return nil
	}

	steps := []struct {
		predicate string
		fn        func(e *Entry, st Statement)
	}{
		{v.Type, func(e *Entry, st Statement) {
			switch st.Object.Lexical {
			case v.Folder:
				e.IsDir = true
			case v.IndexedFolder:
				roots[e.ResourceID] = true
			}
		}},
		{v.BelongsToContainer, func(e *Entry, st Statement) { e.ParentID = st.Object.Lexical }},
		{v.DataSource, func(e *Entry, st Statement) { e.SourceID = st.Object.Lexical }},
		{v.Fingerprint, func(e *Entry, st Statement) { e.Fingerprint = st.Object.Lexical }},
		{v.ExtractionState, func(e *Entry, st Statement) { e.State, e.Reason = ParseStateLabel(st.Object.Lexical) }},
		{v.Available, func(e *Entry, st Statement) {
			b, _ := st.Object.AsBool()
			available[e.ResourceID] = b
		}},
		{v.IsRemovable, func(e *Entry, st Statement) {
			b, _ := st.Object.AsBool()
			removable[e.ResourceID] = b
		}},
		{v.UnmountDate, func(e *Entry, st Statement) {
			if t, err := st.Object.AsTime(); err == nil {
				unmounted[e.ResourceID] = t
			}
		}},
	}
	for _, step := range steps {
		if err := each(step.predicate, step.fn); err != nil {
			return err
		}
	}

	stored, err := s.store.Query(ctx, Pattern{Predicate: v.IsStoredAs})
	if err != nil {
		return fmt.Errorf("querying content links: %w", err)
	}
	content := make(map[string]Statement, len(stored))
	for _, st := range stored {
		content[st.Object.Lexical] = st
	}

	configured := make(map[string]Root)
	for _, r := range s.classifier.Roots() {
		configured[r.Path] = r
	}

	for id, e := range entries {
		if st, ok := content[id]; ok {
			e.ContentID = st.Subject
			e.Graph = st.Graph
		}
		cls := s.classifier.Classify(e.Path, e.IsDir)
		e.MIME = cls.Hint
		e.TextEligible = cls.TextIndexEligible
		if e.IsDir {
			e.State = StateDone
		}
		if err := s.identity.Add(e); err != nil {
			s.logger.Warn("skipping conflicting resource", "error", err)
			continue
		}

		if !roots[id] {
			continue
		}
		root, ok := configured[e.Path]
		if !ok {
			root = Root{Path: e.Path, Recursive: true, Removable: removable[id]}
		}
		avail, known := available[id]
		s.sources[e.Path] = &source{
			root:        root,
			id:          id,
			available:   avail || !known,
			unmountedAt: unmounted[id],
		}
		if !ok && root.Removable {
			if err := s.classifier.AddRoot(root); err != nil {
				s.logger.Warn("restoring removable root", "path", root.Path, "error", err)
			}
		}
	}

	s.logger.Info("identity table loaded", "entries", s.identity.Len(), "sources", len(s.sources))
	return nil
}

// purgeSources deletes data sources that are no longer wanted: removable
// sources past retention (or all of them when removable indexing is off),
// and fixed roots dropped from configuration.
func (s *Synchronizer) purgeSources(ctx context.Context) {
	configured := make(map[string]bool)
	for _, r := range s.classifier.Roots() {
		if !r.Removable {
			configured[r.Path] = true
		}
	}
	now := s.clock.Now()

	for path, src := range s.sources {
		var reason string
		switch {
		case src.root.Removable && s.opts.DisableRemovable:
			reason = "removable indexing disabled"
		case src.root.Removable && !src.available && s.opts.RemovableRetention > 0 &&
			!src.unmountedAt.IsZero() && now.Sub(src.unmountedAt) > s.opts.RemovableRetention:
			reason = "retention expired"
		case !src.root.Removable && !configured[path]:
			reason = "root no longer configured"
		default:
			continue
		}

		root := s.identity.Get(path)
		if root != nil {
			if err := s.deleteSubtree(ctx, root); err != nil {
				continue
			}
		}
		delete(s.sources, path)
		if src.root.Removable {
			s.classifier.RemoveRoot(path)
		}
		s.logger.Info("purged data source", "path", path, "reason", reason)
	}
}
