package miner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Index flags accepted by IndexLocation.
const (
	FlagRecursive = "recursive"
	FlagForce     = "force"
)

// IndexLocation re-indexes a file or directory on demand. A file is always
// re-extracted; a directory is crawled, recursively with FlagRecursive, and
// re-extracts unchanged files only with FlagForce. graphs restricts forced
// re-extraction to the named content graphs.
func (s *Synchronizer) IndexLocation(ctx context.Context, uri string, graphs []string, flags []string) error {
	path, err := PathFromURI(uri)
	if err != nil {
		return err
	}
	var recursive, force bool
	for _, f := range flags {
		switch f {
		case FlagRecursive:
			recursive = true
		case FlagForce:
			force = true
		default:
			return fmt.Errorf("unknown index flag %q", f)
		}
	}

	return s.call(ctx, true, func(ctx context.Context) error {
		info, err := s.fsmgr.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				if e := s.identity.Get(path); e != nil {
					return s.deleteSubtree(ctx, e)
				}
			}
			return fmt.Errorf("stat %s: %w", path, err)
		}
		cls := s.classifier.Classify(path, info.IsDir())
		if !cls.InScope {
			return ErrOutOfScope
		}
		if !info.IsDir() {
			s.local = append(s.local, Event{
				Op:     OpCreated,
				Path:   path,
				Time:   s.clock.Now(),
				Origin: OriginRequest,
				Force:  true,
				Graphs: graphs,
			})
			return nil
		}
		s.startCrawl(ctx, path, recursive && cls.Root.Recursive, force, graphs)
		return nil
	})
}

// AddSource indexes a removable mount. A previously seen source is
// reactivated: its resources become available again and the crawl only
// touches what changed.
func (s *Synchronizer) AddSource(ctx context.Context, uri string) error {
	path, err := PathFromURI(uri)
	if err != nil {
		return err
	}
	if s.opts.DisableRemovable {
		return ErrRemovableDisabled
	}

	return s.call(ctx, true, func(ctx context.Context) error {
		src := s.sources[path]
		if src == nil {
			root := Root{Path: path, Recursive: true, Removable: true}
			if err := s.classifier.AddRoot(root); err != nil {
				return fmt.Errorf("adding root: %w", err)
			}
			s.startCrawl(ctx, path, true, false, nil)
			s.logger.Info("data source added", "path", path)
			return nil
		}
		if !src.available {
			if err := s.setAvailability(ctx, src, true); err != nil {
				return err
			}
			s.logger.Info("data source remounted", "path", path)
		}
		s.startCrawl(ctx, path, src.root.Recursive, false, nil)
		return nil
	})
}

// RemoveSource marks a mounted source unavailable. Nothing is deleted;
// events under the source are ignored until AddSource.
func (s *Synchronizer) RemoveSource(ctx context.Context, uri string) error {
	path, err := PathFromURI(uri)
	if err != nil {
		return err
	}
	return s.call(ctx, true, func(ctx context.Context) error {
		src := s.sources[path]
		if src == nil {
			return fmt.Errorf("%w: no data source at %s", ErrUnknownResource, path)
		}
		if !src.available {
			return nil
		}
		if err := s.setAvailability(ctx, src, false); err != nil {
			return err
		}
		s.logger.Info("data source unmounted", "path", path)
		return nil
	})
}

// setAvailability flips the availability flag on every resource of a source.
func (s *Synchronizer) setAvailability(ctx context.Context, src *source, available bool) error {
	g := s.vocab.FilesystemGraph
	var members []*Entry
	for _, e := range s.identity.All() {
		if e.SourceID == src.id {
			members = append(members, e)
		}
	}

	now := s.clock.Now()
	mutations := make([]Mutation, 0, 2*len(members)+1)
	for _, e := range members {
		mutations = append(mutations, Set(e.ResourceID, s.vocab.Available, BoolValue(available), g))
		if e.ContentID != "" && e.Graph != "" {
			mutations = append(mutations, Set(e.ContentID, s.vocab.Available, BoolValue(available), e.Graph))
		}
	}
	if available {
		mutations = append(mutations, Remove(src.id, s.vocab.UnmountDate, g))
	} else {
		mutations = append(mutations, Set(src.id, s.vocab.UnmountDate, TimeValue(now), g))
	}
	if err := s.commit(ctx, mutations); err != nil {
		return fmt.Errorf("updating availability of %s: %w", src.root.Path, err)
	}

	src.available = available
	if available {
		src.unmountedAt = time.Time{}
	} else {
		src.unmountedAt = now
	}
	for _, e := range members {
		if available {
			if e.IsDir {
				s.watch(e.Path)
			}
			continue
		}
		s.cancelExtraction(e)
		if e.State == StateInProgress {
			e.State = StatePending
		}
		if e.IsDir {
			s.unwatch(e.Path)
		}
	}
	return nil
}

// WriteProperties writes properties of a writeback-capable resource to the
// graph and to its file, returning once the file's mtime has advanced.
// resource is a file URI, a path, or a DataObject or content id.
func (s *Synchronizer) WriteProperties(ctx context.Context, resource string, properties map[string]Value) error {
	if s.opts.Writer == nil {
		return ErrNotWritable
	}

	props := make([]Property, 0, len(properties))
	for name, value := range properties {
		props = append(props, Property{Predicate: name, Object: value})
	}
	sort.Slice(props, func(i, j int) bool { return props[i].Predicate < props[j].Predicate })

	var path string
	var before time.Time
	err := s.call(ctx, true, func(ctx context.Context) error {
		e, err := s.resolve(resource)
		if err != nil {
			return err
		}
		if e.IsDir || e.ContentID == "" {
			return ErrNotWritable
		}
		types, err := s.store.Query(ctx, Pattern{Subject: e.ContentID, Predicate: s.vocab.Type})
		if err != nil {
			return fmt.Errorf("querying types: %w", err)
		}
		names := make([]string, 0, len(types))
		for _, st := range types {
			names = append(names, st.Object.Lexical)
		}
		if !s.schema.Writable(names) {
			return ErrNotWritable
		}

		check := &StatementSet{Properties: props}
		if err := s.schema.Validate(check); err != nil {
			return fmt.Errorf("invalid properties: %w", err)
		}
		mutations := make([]Mutation, 0, len(props))
		for _, p := range props {
			mutations = append(mutations, Set(e.ContentID, p.Predicate, p.Object, e.Graph))
		}
		if err := s.commit(ctx, mutations); err != nil {
			return err
		}

		info, err := s.fsmgr.Stat(e.Path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", e.Path, err)
		}
		path = e.Path
		before = info.ModTime()
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.opts.Writer.Write(ctx, path, props); err != nil {
		return fmt.Errorf("writing back %s: %w", path, err)
	}
	return s.awaitModified(ctx, path, before)
}

func (s *Synchronizer) awaitModified(ctx context.Context, path string, before time.Time) error {
	deadline := time.NewTimer(s.opts.WritebackTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()

	for {
		if info, err := s.fsmgr.Stat(path); err == nil && info.ModTime().After(before) {
			return nil
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			return ErrWritebackTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Synchronizer) resolve(resource string) (*Entry, error) {
	if strings.HasPrefix(resource, "file:") || filepath.IsAbs(resource) {
		path, err := PathFromURI(resource)
		if err != nil {
			return nil, err
		}
		if e := s.identity.Get(path); e != nil {
			return e, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, resource)
	}
	if e := s.identity.ByID(resource); e != nil {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownResource, resource)
}

// Lookup returns a copy of the identity entry for a path, or nil.
func (s *Synchronizer) Lookup(ctx context.Context, uri string) (*Entry, error) {
	path, err := PathFromURI(uri)
	if err != nil {
		return nil, err
	}
	var out *Entry
	err = s.call(ctx, false, func(context.Context) error {
		if e := s.identity.Get(path); e != nil {
			cp := *e
			out = &cp
		}
		return nil
	})
	return out, err
}

// Counts summarizes the identity table by extraction state label.
func (s *Synchronizer) Counts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	err := s.call(ctx, false, func(context.Context) error {
		for _, e := range s.identity.All() {
			if e.IsDir {
				counts["directories"]++
				continue
			}
			counts[e.StateLabel()]++
		}
		return nil
	})
	return counts, err
}
