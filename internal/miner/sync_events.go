package miner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"time"
)

func (s *Synchronizer) handle(ctx context.Context, ev Event) {
	s.seq++
	if ev.Path != "" {
		ev.Path = filepath.Clean(ev.Path)
	}
	if ev.Op != OpMovedTo && ev.Op != OpCrawlFinished {
		s.flushMovesTouching(ctx, ev.Path)
	}

	switch ev.Op {
	case OpCreated, OpModified, OpAttributeChanged:
		s.handleUpsert(ctx, ev)
	case OpDeleted:
		s.handleDeleted(ctx, ev)
	case OpMovedFrom:
		s.handleMovedFrom(ctx, ev)
	case OpMovedTo:
		s.handleMovedTo(ctx, ev)
	case OpCrawlFinished:
		s.handleCrawlFinished(ctx, ev)
	default:
		s.logger.Warn("ignoring event with unknown op", "op", int(ev.Op), "path", ev.Path)
	}
}

// handleUpsert covers Created, Modified and AttributeChanged: register the
// path if unknown, otherwise let the fingerprint decide.
func (s *Synchronizer) handleUpsert(ctx context.Context, ev Event) {
	defer s.settleDeferred(ev.Path)

	entry := s.identity.Get(ev.Path)

	cls := s.classifier.Classify(ev.Path, ev.IsDir)
	if !cls.InScope {
		if entry != nil {
			s.logger.Debug("path left scope", "path", ev.Path)
			_ = s.deleteSubtree(ctx, entry)
		}
		return
	}
	if !s.sourceAvailable(cls.Root.Path) {
		return
	}

	info, err := s.fsmgr.Stat(ev.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("path vanished before indexing", "path", ev.Path, "op", ev.Op.String())
			if entry != nil {
				_ = s.deleteSubtree(ctx, entry)
			}
			return
		}
		s.logger.Warn("skipping path", "error", &ClassificationError{Path: ev.Path, Err: err})
		return
	}
	isDir := info.IsDir()
	if !isDir && !info.Mode().IsRegular() {
		s.logger.Debug("skipping special file", "path", ev.Path, "mode", info.Mode().String())
		return
	}
	if isDir != ev.IsDir {
		cls = s.classifier.Classify(ev.Path, isDir)
		if !cls.InScope {
			return
		}
	}

	fp, err := s.fingerprint(ev.Path, info)
	if err != nil {
		s.logger.Warn("computing fingerprint", "path", ev.Path, "error", err)
		return
	}

	if entry != nil {
		entry.touched = s.seq
		if entry.IsDir == isDir {
			s.refresh(ctx, entry, ev, info, fp, cls)
			return
		}
		if err := s.deleteSubtree(ctx, entry); err != nil {
			return
		}
	}
	s.register(ctx, ev, info, fp, cls)
}

func (s *Synchronizer) register(ctx context.Context, ev Event, info fs.FileInfo, fp string, cls Classification) {
	isRoot := cls.IsRoot(ev.Path)
	entry := &Entry{
		Path:         ev.Path,
		ResourceID:   s.ids.New(),
		Fingerprint:  fp,
		State:        StatePending,
		IsDir:        info.IsDir(),
		TextEligible: cls.TextIndexEligible,
		MIME:         cls.Hint,
		touched:      s.seq,
	}

	if isRoot {
		entry.SourceID = entry.ResourceID
	} else {
		parentPath := filepath.Dir(ev.Path)
		parent := s.identity.Get(parentPath)
		if parent == nil {
			s.deferUntilParent(parentPath, ev)
			return
		}
		src := s.sources[cls.Root.Path]
		if src == nil {
			s.logger.Warn("no data source for root", "root", cls.Root.Path, "path", ev.Path)
			return
		}
		entry.ParentID = parent.ResourceID
		entry.SourceID = src.id
	}

	if err := s.commit(ctx, s.dataObjectMutations(entry, info, isRoot, cls.Root.Removable)); err != nil {
		s.logger.Error("dropping event", "op", ev.Op.String(), "path", ev.Path, "error", err)
		return
	}
	if err := s.identity.Add(entry); err != nil {
		s.logger.Error("identity table rejected entry", "path", ev.Path, "error", err)
		return
	}
	s.logger.Debug("registered", "path", ev.Path, "id", entry.ResourceID, "origin", ev.Origin.String())

	if isRoot {
		s.sources[cls.Root.Path] = &source{root: cls.Root, id: entry.ResourceID, available: true}
	}
	if !entry.IsDir {
		s.submit(entry)
		return
	}

	s.watch(entry.Path)
	s.releaseDeferred(entry.Path)
	if !isRoot && (ev.Origin == OriginMonitor || ev.Origin == OriginSynthetic) {
		// Children may have appeared before the watch was in place.
		s.startCrawl(ctx, entry.Path, cls.Root.Recursive, false, nil)
	}
}

// refresh handles an event for a registered path of unchanged kind.
func (s *Synchronizer) refresh(ctx context.Context, entry *Entry, ev Event, info fs.FileInfo, fp string, cls Classification) {
	if entry.Fingerprint == fp {
		if entry.IsDir {
			return
		}
		switch {
		case ev.Force && s.graphSelected(entry, ev.Graphs):
			s.submit(entry)
		case ev.Origin == OriginRequest:
			s.submit(entry)
		case entry.State == StatePending && s.inflight[entry.ResourceID] == 0:
			s.submit(entry)
		}
		return
	}

	g := s.vocab.FilesystemGraph
	id := entry.ResourceID
	mutations := []Mutation{
		Set(id, s.vocab.FileSize, IntValue(info.Size()), g),
		Set(id, s.vocab.FileLastModified, TimeValue(info.ModTime()), g),
		Set(id, s.vocab.Fingerprint, StringValue(fp), g),
	}
	if !entry.IsDir {
		mutations = append(mutations, Set(id, s.vocab.ExtractionState, StringValue(StatePending.String()), g))
	}
	if err := s.commit(ctx, mutations); err != nil {
		s.logger.Error("dropping event", "op", ev.Op.String(), "path", ev.Path, "error", err)
		return
	}

	entry.Fingerprint = fp
	if entry.IsDir {
		return
	}
	entry.State = StatePending
	entry.Reason = ""
	entry.TextEligible = cls.TextIndexEligible
	entry.MIME = cls.Hint
	s.submit(entry)
}

func (s *Synchronizer) dataObjectMutations(e *Entry, info fs.FileInfo, isRoot, removable bool) []Mutation {
	g := s.vocab.FilesystemGraph
	v := s.vocab
	id := e.ResourceID

	mutations := []Mutation{Insert(id, v.Type, RefValue(v.FileDataObject), g)}
	if e.IsDir {
		mutations = append(mutations, Insert(id, v.Type, RefValue(v.Folder), g))
	}
	if isRoot {
		mutations = append(mutations,
			Insert(id, v.Type, RefValue(v.IndexedFolder), g),
			Set(id, v.IsRemovable, BoolValue(removable), g),
		)
	}
	mutations = append(mutations,
		Set(id, v.URL, StringValue(e.URI()), g),
		Set(id, v.FileName, StringValue(filepath.Base(e.Path)), g),
		Set(id, v.FileSize, IntValue(info.Size()), g),
		Set(id, v.FileLastModified, TimeValue(info.ModTime()), g),
		Set(id, v.DataSource, RefValue(e.SourceID), g),
		Set(id, v.Available, BoolValue(true), g),
		Set(id, v.Fingerprint, StringValue(e.Fingerprint), g),
	)
	if e.ParentID != "" {
		mutations = append(mutations, Set(id, v.BelongsToContainer, RefValue(e.ParentID), g))
	}
	if !e.IsDir {
		mutations = append(mutations, Set(id, v.ExtractionState, StringValue(StatePending.String()), g))
	}
	return mutations
}

// deferUntilParent parks ev until parentPath registers, asking for the
// parent once.
func (s *Synchronizer) deferUntilParent(parentPath string, ev Event) {
	first := len(s.deferred[parentPath]) == 0
	s.deferred[parentPath] = append(s.deferred[parentPath], ev)
	s.logger.Debug("deferring until parent registers", "path", ev.Path, "parent", parentPath)
	if !first {
		return
	}
	s.local = append(s.local, Event{
		Op:     OpCreated,
		Path:   parentPath,
		IsDir:  true,
		Time:   s.clock.Now(),
		Origin: OriginSynthetic,
	})
}

func (s *Synchronizer) releaseDeferred(path string) {
	events, ok := s.deferred[path]
	if !ok {
		return
	}
	delete(s.deferred, path)
	s.local = append(s.local, events...)
}

// settleDeferred drops events waiting on path once path can no longer
// register: it is neither registered nor itself waiting on its parent.
func (s *Synchronizer) settleDeferred(path string) {
	if _, waiting := s.deferred[path]; !waiting {
		return
	}
	if s.identity.Get(path) != nil || s.isDeferred(path) {
		return
	}
	s.dropDeferred(path)
}

func (s *Synchronizer) isDeferred(path string) bool {
	for _, ev := range s.deferred[filepath.Dir(path)] {
		if ev.Path == path {
			return true
		}
	}
	return false
}

func (s *Synchronizer) dropDeferred(path string) {
	events, ok := s.deferred[path]
	if !ok {
		return
	}
	delete(s.deferred, path)
	for _, ev := range events {
		s.logger.Debug("dropping deferred event", "path", ev.Path, "parent", path)
		s.dropDeferred(ev.Path)
	}
}

// forgetDeferred removes a path's own parked events.
func (s *Synchronizer) forgetDeferred(path string) {
	parent := filepath.Dir(path)
	events := s.deferred[parent]
	kept := events[:0]
	for _, ev := range events {
		if ev.Path != path {
			kept = append(kept, ev)
		}
	}
	if len(kept) == 0 {
		delete(s.deferred, parent)
	} else {
		s.deferred[parent] = kept
	}
}

func (s *Synchronizer) handleDeleted(ctx context.Context, ev Event) {
	s.forgetDeferred(ev.Path)
	s.dropDeferred(ev.Path)

	entry := s.identity.Get(ev.Path)
	if entry == nil || !s.entryAvailable(entry) {
		return
	}
	_ = s.deleteSubtree(ctx, entry)
}

// deleteSubtree removes an entry and its descendants, following containment
// in the identity table, in one transaction.
func (s *Synchronizer) deleteSubtree(ctx context.Context, entry *Entry) error {
	sub := s.identity.Subtree(entry.Path)
	mutations := make([]Mutation, 0, 3*len(sub))
	for i := len(sub) - 1; i >= 0; i-- {
		e := sub[i]
		if e.ContentID != "" {
			mutations = append(mutations, Delete(e.ContentID))
		}
		mutations = append(mutations,
			DeleteReferrers(s.vocab.IsStoredAs, e.ResourceID),
			Delete(e.ResourceID),
		)
	}
	if err := s.commit(ctx, mutations); err != nil {
		s.logger.Error("dropping delete", "path", entry.Path, "error", err)
		return err
	}

	for _, e := range sub {
		s.cancelExtraction(e)
		s.identity.Remove(e.Path)
		if e.IsDir {
			s.unwatch(e.Path)
		}
		if src := s.sources[e.Path]; src != nil && src.id == e.ResourceID {
			delete(s.sources, e.Path)
		}
	}
	s.logger.Debug("deleted", "path", entry.Path, "entries", len(sub))
	return nil
}

func (s *Synchronizer) handleMovedFrom(ctx context.Context, ev Event) {
	if ev.Token == "" {
		s.handleDeleted(ctx, ev)
		return
	}
	s.moves[ev.Token] = &pendingMove{event: ev, deadline: time.Now().Add(s.opts.MoveWindow)}
	if s.moveTimer == nil {
		s.moveTimer = time.NewTimer(s.opts.MoveWindow)
	}
}

func (s *Synchronizer) handleMovedTo(ctx context.Context, ev Event) {
	pm, ok := s.moves[ev.Token]
	if !ok || ev.Token == "" {
		s.flushMovesTouching(ctx, ev.Path)
		ev.Op = OpCreated
		s.handleUpsert(ctx, ev)
		return
	}
	delete(s.moves, ev.Token)
	s.rename(ctx, pm.event.Path, ev)
}

// expireMoves degrades unpaired MovedFrom events to Deleted.
func (s *Synchronizer) expireMoves(ctx context.Context) {
	now := time.Now()
	var next time.Time
	for token, pm := range s.moves {
		if !pm.deadline.After(now) {
			delete(s.moves, token)
			s.logger.Debug("unpaired move degraded to delete", "path", pm.event.Path)
			s.handleDeleted(ctx, pm.event)
			continue
		}
		if next.IsZero() || pm.deadline.Before(next) {
			next = pm.deadline
		}
	}
	if !next.IsZero() {
		s.moveTimer = time.NewTimer(next.Sub(now))
	}
}

// flushMovesTouching degrades pending moves whose source overlaps path so
// that per-path order is preserved.
func (s *Synchronizer) flushMovesTouching(ctx context.Context, path string) {
	if path == "" {
		return
	}
	for token, pm := range s.moves {
		if IsUnder(path, pm.event.Path) || IsUnder(pm.event.Path, path) {
			delete(s.moves, token)
			s.handleDeleted(ctx, pm.event)
		}
	}
}

// rename moves the entry at from to ev.Path, keeping resource ids.
func (s *Synchronizer) rename(ctx context.Context, from string, ev Event) {
	to := ev.Path
	entry := s.identity.Get(from)
	s.forgetDeferred(from)
	if entry == nil {
		s.logger.Debug("move from unknown path treated as create", "from", from, "to", to)
		ev.Op = OpCreated
		s.handleUpsert(ctx, ev)
		return
	}
	if from == to {
		return
	}

	cls := s.classifier.Classify(to, entry.IsDir)
	if !cls.InScope || !s.sourceAvailable(cls.Root.Path) {
		s.logger.Debug("moved out of scope", "from", from, "to", to)
		_ = s.deleteSubtree(ctx, entry)
		return
	}
	if IsUnder(to, from) {
		s.logger.Warn("ignoring move into own subtree", "from", from, "to", to)
		return
	}

	if existing := s.identity.Get(to); existing != nil {
		if err := s.deleteSubtree(ctx, existing); err != nil {
			return
		}
	}
	s.forgetDeferred(to)

	parent := s.identity.Get(filepath.Dir(to))
	src := s.sources[cls.Root.Path]
	if cls.IsRoot(to) || parent == nil || src == nil {
		// Containment cannot be expressed; degrade to delete + create.
		if err := s.deleteSubtree(ctx, entry); err != nil {
			return
		}
		ev.Op = OpCreated
		ev.IsDir = entry.IsDir
		s.handleUpsert(ctx, ev)
		return
	}

	g := s.vocab.FilesystemGraph
	v := s.vocab
	sub := s.identity.Subtree(from)
	mutations := []Mutation{
		Set(entry.ResourceID, v.URL, StringValue(URIFromPath(to)), g),
		Set(entry.ResourceID, v.FileName, StringValue(filepath.Base(to)), g),
		Set(entry.ResourceID, v.BelongsToContainer, RefValue(parent.ResourceID), g),
	}
	for _, d := range sub[1:] {
		mutations = append(mutations, Set(d.ResourceID, v.URL, StringValue(URIFromPath(Reparent(d.Path, from, to))), g))
	}
	if src.id != entry.SourceID {
		for _, d := range sub {
			mutations = append(mutations, Set(d.ResourceID, v.DataSource, RefValue(src.id), g))
		}
	}
	if err := s.commit(ctx, mutations); err != nil {
		s.logger.Error("dropping move", "from", from, "to", to, "error", err)
		return
	}

	moved := s.identity.Move(from, to)
	entry.ParentID = parent.ResourceID
	var outOfScope []*Entry
	for _, e := range moved {
		e.touched = s.seq
		e.SourceID = src.id
		if e.IsDir {
			s.unwatch(Reparent(e.Path, to, from))
			s.watch(e.Path)
			continue
		}
		s.dispatcher.Retarget(e.ResourceID, e.Path)
		ncls := s.classifier.Classify(e.Path, false)
		if !ncls.InScope {
			outOfScope = append(outOfScope, e)
			continue
		}
		if s.refreshMoved(ctx, e, ncls) {
			continue
		}
		if ncls.TextIndexEligible != e.TextEligible || ncls.Hint != e.MIME {
			e.TextEligible = ncls.TextIndexEligible
			e.MIME = ncls.Hint
			s.submit(e)
		}
	}
	for _, e := range outOfScope {
		if s.identity.Get(e.Path) == e {
			_ = s.deleteSubtree(ctx, e)
		}
	}
	s.logger.Debug("moved", "from", from, "to", to, "entries", len(moved))
}

// refreshMoved re-extracts a moved file whose content differs from what
// was indexed under its old path. It reports whether it did.
func (s *Synchronizer) refreshMoved(ctx context.Context, e *Entry, cls Classification) bool {
	info, err := s.fsmgr.Stat(e.Path)
	if err != nil {
		// A vanished file is handled by the Deleted event that follows.
		return false
	}
	fp, err := s.fingerprint(e.Path, info)
	if err != nil {
		s.logger.Warn("computing fingerprint", "path", e.Path, "error", err)
		return false
	}
	if fp == e.Fingerprint {
		return false
	}
	s.logger.Debug("moved file changed content", "path", e.Path)
	s.refresh(ctx, e, Event{Op: OpModified, Path: e.Path, Time: s.clock.Now(), Origin: OriginMonitor}, info, fp, cls)
	return true
}

func (s *Synchronizer) handleCrawlFinished(ctx context.Context, ev Event) {
	c, ok := s.crawls[ev.Crawl]
	if !ok {
		return
	}
	delete(s.crawls, ev.Crawl)
	if ev.Failed {
		s.logger.Debug("crawl ended early, skipping sweep", "root", c.root)
		return
	}
	if cls := s.classifier.Classify(c.root, true); cls.InScope && !s.sourceAvailable(cls.Root.Path) {
		return
	}

	var stale []*Entry
	for _, e := range s.identity.Under(c.root) {
		if e.touched >= c.startSeq {
			continue
		}
		if !c.recursive && e.Path != c.root && filepath.Dir(e.Path) != c.root {
			continue
		}
		if !s.entryAvailable(e) {
			continue
		}
		stale = append(stale, e)
	}

	deleted := 0
	for _, e := range stale {
		if s.identity.Get(e.Path) != e {
			continue
		}
		if err := s.deleteSubtree(ctx, e); err == nil {
			deleted++
		}
	}
	s.logger.Info("crawl finished", "root", c.root, "swept", deleted)
}

func (s *Synchronizer) sourceAvailable(rootPath string) bool {
	src := s.sources[rootPath]
	return src == nil || src.available
}

func (s *Synchronizer) entryAvailable(e *Entry) bool {
	for _, src := range s.sources {
		if src.id == e.SourceID {
			return src.available
		}
	}
	return true
}

func (s *Synchronizer) graphSelected(e *Entry, graphs []string) bool {
	if len(graphs) == 0 {
		return true
	}
	graph := e.Graph
	if graph == "" {
		graph = s.schema.GraphFor(e.MIME)
	}
	for _, g := range graphs {
		if g == graph {
			return true
		}
	}
	return false
}

func (s *Synchronizer) fingerprint(path string, info fs.FileInfo) (string, error) {
	base := fmt.Sprintf("%d:%d", info.ModTime().UnixNano(), info.Size())
	if s.opts.Fingerprint != FingerprintSHA256 || info.IsDir() {
		return base, nil
	}
	f, err := s.fsmgr.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening for checksum: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
