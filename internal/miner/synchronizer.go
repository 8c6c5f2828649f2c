package miner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// FingerprintMode selects how content changes are detected.
type FingerprintMode string

const (
	FingerprintMtime  FingerprintMode = "mtime"
	FingerprintSHA256 FingerprintMode = "sha256"
)

// Options tunes a Synchronizer. Zero values fall back to defaults.
type Options struct {
	Vocabulary  Vocabulary
	Schema      *Schema
	Fingerprint FingerprintMode

	// QueueSize bounds the input channel shared by crawlers and the monitor.
	QueueSize int
	// StoreRetries is the number of attempts for transient store failures.
	StoreRetries int
	// RetryBackoff is the first delay between store attempts; it doubles.
	RetryBackoff time.Duration
	// MoveWindow is how long a MovedFrom waits for its MovedTo.
	MoveWindow time.Duration
	// RemovableRetention purges unavailable removable sources older than
	// this at startup. Zero keeps them forever.
	RemovableRetention time.Duration
	// DisableRemovable purges every removable source and refuses new ones.
	DisableRemovable bool
	// WritebackTimeout bounds the wait for a written file's mtime to advance.
	WritebackTimeout time.Duration
	// FullText lists the predicates the store full-text indexes. Files
	// outside the text allowlist never carry them. The plain text content
	// predicate is always included.
	FullText []string

	Watcher Watcher
	Writer  Writer
}

func (o *Options) applyDefaults() {
	if o.Vocabulary.URL == "" {
		o.Vocabulary = DefaultVocabulary()
	}
	if o.Schema == nil {
		o.Schema = DefaultSchema(o.Vocabulary)
	}
	if o.Fingerprint == "" {
		o.Fingerprint = FingerprintMtime
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.StoreRetries <= 0 {
		o.StoreRetries = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 100 * time.Millisecond
	}
	if o.MoveWindow <= 0 {
		o.MoveWindow = time.Second
	}
	if o.WritebackTimeout <= 0 {
		o.WritebackTimeout = 10 * time.Second
	}
}

// source is an indexed root as a data source: its root directory's
// DataObject doubles as the data source resource.
type source struct {
	root        Root
	id          string
	available   bool
	unmountedAt time.Time
}

type crawlState struct {
	root      string
	recursive bool
	startSeq  uint64
}

type pendingMove struct {
	event    Event
	deadline time.Time
}

type request struct {
	fn       func(ctx context.Context) error
	mutating bool
	done     chan error
}

// Synchronizer is the single writer of the identity table and the store.
// Crawlers, the monitor and API calls all funnel into its goroutine, which
// applies one event per store transaction.
type Synchronizer struct {
	store      Store
	fsmgr      FilesystemManager
	classifier Classifier
	crawler    Crawler
	dispatcher Dispatcher
	logger     Logger
	clock      Clock
	ids        IDGenerator
	opts       Options
	vocab      Vocabulary
	schema     *Schema
	fullText   map[string]bool

	input    chan Event
	requests chan request
	tracker  *Tracker

	// Loop-owned state below.
	identity  *IdentityTable
	sources   map[string]*source
	local     []Event
	deferred  map[string][]Event
	moves     map[string]*pendingMove
	moveTimer *time.Timer
	inflight  map[string]int
	crawls    map[uint64]*crawlState
	seq       uint64
	crawlSeq  uint64
	crawlWG   sync.WaitGroup
}

// NewSynchronizer wires a synchronizer. Call Run to start it.
func NewSynchronizer(store Store, fsmgr FilesystemManager, classifier Classifier, crawler Crawler, dispatcher Dispatcher, logger Logger, clock Clock, ids IDGenerator, opts Options) *Synchronizer {
	opts.applyDefaults()
	fullText := map[string]bool{opts.Vocabulary.PlainTextContent: true}
	for _, p := range opts.FullText {
		fullText[p] = true
	}
	return &Synchronizer{
		store:      store,
		fsmgr:      fsmgr,
		classifier: classifier,
		crawler:    crawler,
		dispatcher: dispatcher,
		logger:     logger,
		clock:      clock,
		ids:        ids,
		opts:       opts,
		vocab:      opts.Vocabulary,
		schema:     opts.Schema,
		fullText:   fullText,
		input:      make(chan Event, opts.QueueSize),
		requests:   make(chan request),
		tracker:    NewTracker(),
		identity:   NewIdentityTable(),
		sources:    make(map[string]*source),
		deferred:   make(map[string][]Event),
		moves:      make(map[string]*pendingMove),
		inflight:   make(map[string]int),
		crawls:     make(map[uint64]*crawlState),
	}
}

// Tracker exposes the progress tracker.
func (s *Synchronizer) Tracker() *Tracker { return s.tracker }

// Enqueue feeds events into the synchronizer, blocking while the input
// queue is full.
func (s *Synchronizer) Enqueue(ctx context.Context, events ...Event) error {
	for _, ev := range events {
		if err := s.send(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synchronizer) send(ctx context.Context, ev Event) error {
	select {
	case s.input <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run loads the identity table, purges expired sources, crawls every
// available root and processes events until ctx is cancelled.
func (s *Synchronizer) Run(ctx context.Context) error {
	s.tracker.Set(true)

	if err := s.load(ctx); err != nil {
		s.tracker.Set(false)
		return fmt.Errorf("loading identity table: %w", err)
	}
	s.purgeSources(ctx)

	for _, e := range s.identity.All() {
		if e.IsDir && s.entryAvailable(e) {
			s.watch(e.Path)
		}
	}
	for _, root := range s.classifier.Roots() {
		if src := s.sources[root.Path]; src != nil && !src.available {
			continue
		}
		s.startCrawl(ctx, root.Path, root.Recursive, false, nil)
	}

	err := s.loop(ctx)
	s.crawlWG.Wait()
	if s.moveTimer != nil {
		s.moveTimer.Stop()
	}
	return err
}

func (s *Synchronizer) loop(ctx context.Context) error {
	results := s.dispatcher.Results()
	for {
		s.tracker.Set(s.busy())

		if len(s.local) > 0 {
			ev := s.local[0]
			s.local = s.local[1:]
			s.handle(ctx, ev)
			continue
		}

		var moveC <-chan time.Time
		if s.moveTimer != nil {
			moveC = s.moveTimer.C
		}

		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.input:
			s.tracker.Set(true)
			s.handle(ctx, ev)
		case res := <-results:
			s.tracker.Set(true)
			s.handleResult(ctx, res)
		case req := <-s.requests:
			if req.mutating {
				s.tracker.Set(true)
			}
			req.done <- req.fn(ctx)
		case <-moveC:
			s.moveTimer = nil
			s.expireMoves(ctx)
		}
	}
}

// busy reports outstanding work of any kind.
func (s *Synchronizer) busy() bool {
	return len(s.input) > 0 ||
		len(s.local) > 0 ||
		len(s.deferred) > 0 ||
		len(s.crawls) > 0 ||
		len(s.inflight) > 0 ||
		len(s.moves) > 0
}

// call runs fn on the synchronizer goroutine and returns its error.
func (s *Synchronizer) call(ctx context.Context, mutating bool, fn func(ctx context.Context) error) error {
	req := request{fn: fn, mutating: mutating, done: make(chan error, 1)}
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SettleTarget returns the cycle count at which all work caused by requests
// and events accepted so far is done. Await it with Tracker.AwaitCycleCount.
func (s *Synchronizer) SettleTarget(ctx context.Context) (uint64, error) {
	var target uint64
	err := s.call(ctx, false, func(context.Context) error {
		target = s.tracker.Cycles()
		if s.busy() {
			target++
		}
		return nil
	})
	return target, err
}

// commit applies mutations, retrying transient failures with exponential
// backoff. Callers touch the identity table only after commit succeeds.
func (s *Synchronizer) commit(ctx context.Context, mutations []Mutation) error {
	if len(mutations) == 0 {
		return nil
	}
	backoff := s.opts.RetryBackoff
	for attempt := 1; ; attempt++ {
		err := s.store.Update(ctx, mutations)
		if err == nil {
			return nil
		}
		if !IsTransient(err) || attempt >= s.opts.StoreRetries {
			return err
		}
		s.logger.Warn("store update failed, retrying", "attempt", attempt, "error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		}
		backoff *= 2
	}
}

func (s *Synchronizer) watch(dir string) {
	if s.opts.Watcher == nil {
		return
	}
	if err := s.opts.Watcher.Watch(dir); err != nil {
		s.logger.Debug("watch failed", "path", dir, "error", err)
	}
}

func (s *Synchronizer) unwatch(dir string) {
	if s.opts.Watcher == nil {
		return
	}
	if err := s.opts.Watcher.Unwatch(dir); err != nil {
		s.logger.Debug("unwatch failed", "path", dir, "error", err)
	}
}

// startCrawl walks root on a separate goroutine. Entries under root that
// no event confirms before the crawl finishes are swept.
func (s *Synchronizer) startCrawl(ctx context.Context, root string, recursive, force bool, graphs []string) {
	s.crawlSeq++
	id := s.crawlSeq
	s.crawls[id] = &crawlState{root: root, recursive: recursive, startSeq: s.seq + 1}
	s.logger.Debug("crawl started", "root", root, "crawl", id, "recursive", recursive)

	s.crawlWG.Add(1)
	go func() {
		defer s.crawlWG.Done()

		emit := func(ev Event) error {
			ev.Origin = OriginCrawl
			ev.Crawl = id
			ev.Force = force
			ev.Graphs = graphs
			return s.send(ctx, ev)
		}
		err := s.crawler.Crawl(ctx, root, recursive, emit)
		failed := err != nil
		if failed && ctx.Err() == nil {
			s.logger.Warn("crawl failed", "root", root, "error", err)
		}
		_ = s.send(ctx, Event{
			Op:     OpCrawlFinished,
			Path:   root,
			Crawl:  id,
			Origin: OriginCrawl,
			Time:   s.clock.Now(),
			Failed: failed,
		})
	}()
}
