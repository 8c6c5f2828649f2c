package miner

import (
	"context"
	"errors"
	"io/fs"
)

func (s *Synchronizer) submit(e *Entry) {
	task := ExtractTask{
		ResourceID:  e.ResourceID,
		Path:        e.Path,
		MIME:        e.MIME,
		Fingerprint: e.Fingerprint,
	}
	if !s.dispatcher.Submit(task) {
		s.inflight[e.ResourceID]++
	}
	e.State = StateInProgress
}

func (s *Synchronizer) cancelExtraction(e *Entry) {
	if _, ok := s.inflight[e.ResourceID]; !ok {
		return
	}
	s.dispatcher.Cancel(e.ResourceID)
	delete(s.inflight, e.ResourceID)
}

func (s *Synchronizer) handleResult(ctx context.Context, res ExtractResult) {
	id := res.Task.ResourceID
	n, ok := s.inflight[id]
	if !ok {
		s.logger.Debug("discarding result for cancelled extraction", "id", id, "path", res.Task.Path)
		return
	}
	if n <= 1 {
		delete(s.inflight, id)
	} else {
		s.inflight[id] = n - 1
	}

	e := s.identity.ByID(id)
	if e == nil || e.ResourceID != id {
		return
	}
	if res.Task.Fingerprint != e.Fingerprint {
		s.logger.Debug("discarding stale extraction", "path", e.Path)
		if s.inflight[id] == 0 {
			s.submit(e)
		}
		return
	}

	if res.Err != nil && res.Task.Path != e.Path && errors.Is(res.Err, fs.ErrNotExist) {
		s.logger.Debug("extraction read a path that was renamed away", "old", res.Task.Path, "path", e.Path)
		if s.inflight[id] == 0 {
			s.submit(e)
		}
		return
	}
	if res.Err != nil {
		reason := ReasonCrash
		var xe *ExtractionError
		if errors.As(res.Err, &xe) && xe.Reason != "" {
			reason = xe.Reason
		}
		s.logger.Warn("extraction failed", "path", e.Path, "reason", reason, "error", res.Err)
		s.markFailed(ctx, e, reason)
		return
	}
	if res.Set == nil {
		res.Set = &StatementSet{}
	}
	if err := s.schema.Validate(res.Set); err != nil {
		s.logger.Warn("extractor produced invalid metadata", "path", e.Path, "error", err)
		s.markFailed(ctx, e, ReasonInvalidMetadata)
		return
	}
	s.storeContent(ctx, e, res.Set)
}

// storeContent replaces the entry's InformationElement statements. The
// element keeps its id across re-extraction.
func (s *Synchronizer) storeContent(ctx context.Context, e *Entry, set *StatementSet) {
	v := s.vocab
	mime := set.MIME
	if mime == "" {
		mime = e.MIME
	}
	graph := set.Graph
	if graph == "" {
		graph = s.schema.GraphFor(mime)
	}
	ie := e.ContentID
	if ie == "" {
		ie = s.ids.New()
	}

	mutations := []Mutation{
		Remove(ie, "", ""),
		Insert(ie, v.Type, RefValue(v.InformationElement), graph),
	}
	for _, t := range set.Types {
		mutations = append(mutations, Insert(ie, v.Type, RefValue(t), graph))
	}
	mutations = append(mutations,
		Insert(ie, v.IsStoredAs, RefValue(e.ResourceID), graph),
		Set(ie, v.Available, BoolValue(true), graph),
	)
	if mime != "" {
		mutations = append(mutations, Set(ie, v.MIMEType, StringValue(mime), graph))
	}
	for _, p := range set.Properties {
		if p.Predicate == v.MIMEType {
			continue
		}
		if !e.TextEligible && s.fullText[p.Predicate] {
			continue
		}
		mutations = append(mutations, Insert(ie, p.Predicate, p.Object, graph))
	}
	mutations = append(mutations, Set(e.ResourceID, v.ExtractionState, StringValue(StateDone.String()), v.FilesystemGraph))

	if err := s.commit(ctx, mutations); err != nil {
		s.logger.Error("dropping extraction result", "path", e.Path, "error", err)
		e.State = StatePending
		return
	}
	s.identity.SetContentID(e, ie)
	e.Graph = graph
	e.State = StateDone
	e.Reason = ""
	s.logger.Debug("indexed", "path", e.Path, "content", ie, "graph", graph)
}

// markFailed persists a failed extraction. Stale content statements are
// dropped; the DataObject stays.
func (s *Synchronizer) markFailed(ctx context.Context, e *Entry, reason string) {
	mutations := []Mutation{
		Set(e.ResourceID, s.vocab.ExtractionState, StringValue("failed:"+reason), s.vocab.FilesystemGraph),
	}
	if e.ContentID != "" {
		mutations = append(mutations, Remove(e.ContentID, "", ""))
	}
	if err := s.commit(ctx, mutations); err != nil {
		s.logger.Error("dropping extraction failure", "path", e.Path, "error", err)
		e.State = StatePending
		return
	}
	e.State = StateFailed
	e.Reason = reason
}
