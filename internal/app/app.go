package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"fsgraph/internal/classify"
	"fsgraph/internal/config"
	"fsgraph/internal/crawler"
	"fsgraph/internal/extract"
	"fsgraph/internal/feed"
	"fsgraph/internal/fs"
	"fsgraph/internal/miner"
	"fsgraph/internal/monitor"
	"fsgraph/internal/store"
	"fsgraph/internal/writeback"
)

// Options selects which parts of the engine an App runs.
type Options struct {
	// Live enables filesystem monitoring and, when configured, the
	// progress feed. One-shot commands leave it off.
	Live bool
	// Migrate brings an out-of-date store schema current instead of failing.
	Migrate bool
	// SettleTimeout bounds how long one-shot commands wait for the engine
	// to go idle. Defaults to ten minutes.
	SettleTimeout time.Duration
}

// FSGraphApp is the application layer between the CLI and the
// synchronizer. It constructs all dependencies from config, exposes
// operations that accept raw string paths, and closes the store and log on
// Close.
type FSGraphApp struct {
	cfg        *config.Config
	opts       Options
	store      *store.SQLiteStore
	fsmgr      *fs.OSFilesystemManager
	classifier *classify.Classifier
	dispatcher *extract.Dispatcher
	monitor    *monitor.Monitor
	feed       *feed.Server
	sync       *miner.Synchronizer
	reader     *miner.Reader
	schema     *miner.Schema
	logger     miner.Logger
	clock      miner.Clock
	op         *Operation
	logCloser  io.Closer
}

// NewFSGraphApp creates a fully wired app from the given config.
// operation names the CLI command being run (e.g. "run", "index").
// The caller must call Close when done.
func NewFSGraphApp(cfg *config.Config, operation, parameters string, opts Options) (*FSGraphApp, error) {
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = 10 * time.Minute
	}
	clock := miner.RealClock{}
	op := NewOperation(operation, parameters, clock.Now())

	slogger, logCloser, err := newLogger(cfg.LogDir, cfg.LogLevel, op.ID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a, err := newApp(cfg, opts, logger, clock)
	if err != nil {
		logCloser.Close()
		return nil, err
	}
	a.op = op
	a.logCloser = logCloser
	logger.Info("operation started", "operation", op.Name, "parameters", op.Parameters)
	return a, nil
}

// newApp wires the engine around an existing logger.
func newApp(cfg *config.Config, opts Options, logger miner.Logger, clock miner.Clock) (*FSGraphApp, error) {
	vocab, schema, err := buildSchema(cfg)
	if err != nil {
		return nil, err
	}

	roots := make([]miner.Root, 0, len(cfg.Roots))
	for _, r := range cfg.Roots {
		roots = append(roots, miner.Root{Path: filepath.Clean(r.Path), Recursive: r.Recursive})
	}
	classifier, err := classify.New(classify.Options{
		Roots:           roots,
		Ignore:          cfg.Filesystem.Ignore,
		IndexHidden:     cfg.Filesystem.IndexHidden,
		TextAllowlist:   cfg.Filesystem.TextAllowlist,
		ReadIgnoreFiles: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating classifier: %w", err)
	}

	st, err := store.NewStoreFromConfig(cfg.Store, opts.Migrate)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	fsmgr := fs.NewOSFilesystemManager()
	extractor := extract.NewExtractorFromConfig(cfg.Extraction, fsmgr, vocab)
	dispatcher := extract.NewDispatcher(extractor, logger, cfg.Extraction.Workers, cfg.Extraction.Timeout.Duration)

	a := &FSGraphApp{
		cfg:        cfg,
		opts:       opts,
		store:      st,
		fsmgr:      fsmgr,
		classifier: classifier,
		dispatcher: dispatcher,
		reader:     miner.NewReader(st, vocab),
		schema:     schema,
		logger:     logger,
		clock:      clock,
	}

	syncOpts := miner.Options{
		Vocabulary:         vocab,
		Schema:             schema,
		Fingerprint:        miner.FingerprintMode(cfg.Filesystem.Fingerprint),
		QueueSize:          cfg.Monitor.QueueSize,
		StoreRetries:       cfg.Store.Retries,
		RetryBackoff:       cfg.Store.RetryBackoff.Duration,
		MoveWindow:         cfg.Monitor.MoveWindow.Duration,
		RemovableRetention: time.Duration(cfg.Removable.RetentionDays) * 24 * time.Hour,
		DisableRemovable:   !cfg.Removable.Index,
		WritebackTimeout:   cfg.Writeback.Timeout.Duration,
		FullText:           cfg.Store.FullText.Properties,
	}
	if cfg.Writeback.Command != "" {
		syncOpts.Writer = writeback.NewProcessWriter(cfg.Writeback.Command, cfg.Writeback.Timeout.Duration)
	}
	if opts.Live && cfg.Monitor.Enabled {
		mon, err := monitor.New(classifier, clock, logger, monitor.Options{
			CoalesceWindow: cfg.Monitor.CoalesceWindow.Duration,
			MoveWindow:     cfg.Monitor.MoveWindow.Duration,
		})
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("creating monitor: %w", err)
		}
		a.monitor = mon
		syncOpts.Watcher = mon
	}

	cr := crawler.New(fsmgr, classifier, clock, logger)
	a.sync = miner.NewSynchronizer(st, fsmgr, classifier, cr, dispatcher, logger, clock, miner.UUIDGenerator{}, syncOpts)

	if opts.Live && cfg.Feed.Listen != "" {
		a.feed = feed.NewServer(cfg.Feed.Listen, a.sync.Tracker(), st, logger)
	}
	return a, nil
}

// Run runs the engine until ctx is cancelled or a component fails.
func (a *FSGraphApp) Run(ctx context.Context) error {
	if a.feed != nil {
		if err := a.feed.Listen(); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.dispatcher.Run(ctx)
	})
	g.Go(func() error {
		return a.sync.Run(ctx)
	})
	if a.monitor != nil {
		g.Go(func() error {
			return a.monitor.Run(ctx, a.sync.Enqueue)
		})
	}
	if a.feed != nil {
		g.Go(func() error {
			return a.feed.Serve(ctx)
		})
	}
	return g.Wait()
}

// Start runs the engine in the background and waits for the initial crawl
// to settle. The returned stop function shuts the engine down.
func (a *FSGraphApp) Start(ctx context.Context) (stop func() error, err error) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	stop = func() error {
		cancel()
		return <-done
	}
	if err := a.awaitCycles(ctx, 1); err != nil {
		return nil, errors.Join(err, stop())
	}
	return stop, nil
}

// settled runs fn on the engine and waits until the work it caused is done.
func (a *FSGraphApp) settled(ctx context.Context, fn func() error) error {
	if err := fn(); err != nil {
		return err
	}
	target, err := a.sync.SettleTarget(ctx)
	if err != nil {
		return err
	}
	return a.awaitCycles(ctx, target)
}

func (a *FSGraphApp) awaitCycles(ctx context.Context, n uint64) error {
	return a.sync.Tracker().AwaitCycleCount(ctx, n, a.opts.SettleTimeout)
}

// Tracker exposes engine progress.
func (a *FSGraphApp) Tracker() *miner.Tracker {
	return a.sync.Tracker()
}

// IndexLocation re-indexes a file or directory and waits for the result.
func (a *FSGraphApp) IndexLocation(ctx context.Context, rawPath string, recursive, force bool, graphs []string) error {
	abs, err := filepath.Abs(rawPath)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	var flags []string
	if recursive {
		flags = append(flags, miner.FlagRecursive)
	}
	if force {
		flags = append(flags, miner.FlagForce)
	}
	return a.settled(ctx, func() error {
		return a.sync.IndexLocation(ctx, miner.URIFromPath(abs), graphs, flags)
	})
}

// AddSource indexes a removable mount and waits for its crawl.
func (a *FSGraphApp) AddSource(ctx context.Context, rawPath string) error {
	p, err := a.fsmgr.Resolve(rawPath)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	if !p.IsDir() {
		return fmt.Errorf("data source must be a directory: %s", p)
	}
	return a.settled(ctx, func() error {
		return a.sync.AddSource(ctx, p.URI())
	})
}

// RemoveSource marks a removable mount unavailable. The path need not exist.
func (a *FSGraphApp) RemoveSource(ctx context.Context, rawPath string) error {
	abs, err := filepath.Abs(rawPath)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	return a.settled(ctx, func() error {
		return a.sync.RemoveSource(ctx, miner.URIFromPath(abs))
	})
}

// WriteProperties types raw key=value pairs by the schema and writes them
// back into the file. resource is a path, a file URI or a resource id.
func (a *FSGraphApp) WriteProperties(ctx context.Context, resource string, raw map[string]string) error {
	if !strings.HasPrefix(resource, "file:") && !strings.HasPrefix(resource, "urn:") {
		abs, err := filepath.Abs(resource)
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}
		resource = abs
	}
	props := make(map[string]miner.Value, len(raw))
	for name, value := range raw {
		v, err := parseProperty(a.schema, name, value)
		if err != nil {
			return err
		}
		props[name] = v
	}
	return a.settled(ctx, func() error {
		return a.sync.WriteProperties(ctx, resource, props)
	})
}

// Search returns the files whose content matches every term of text.
func (a *FSGraphApp) Search(ctx context.Context, text string, limit int) ([]miner.SearchResult, error) {
	return a.reader.Search(ctx, text, limit)
}

// Describe returns every statement about a file and its content.
func (a *FSGraphApp) Describe(ctx context.Context, rawPath string) (*miner.Description, error) {
	abs, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	desc, err := a.reader.Describe(ctx, miner.URIFromPath(abs))
	if err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, fmt.Errorf("%w: %s is not indexed", miner.ErrUnknownResource, abs)
	}
	return desc, nil
}

// Tree renders the indexed hierarchy below a directory.
func (a *FSGraphApp) Tree(ctx context.Context, rawPath string, depth int) (string, error) {
	abs, err := filepath.Abs(rawPath)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	return renderTree(ctx, a.reader, miner.URIFromPath(abs), depth)
}

// SourceStatus is one data source's availability.
type SourceStatus struct {
	URI       string
	Available bool
}

// Status summarizes the persisted index.
type Status struct {
	Counts  map[string]int
	Sources []SourceStatus
}

// Status reads extraction state counts and data sources from the store.
func (a *FSGraphApp) Status(ctx context.Context) (*Status, error) {
	counts, err := a.reader.StateCounts(ctx)
	if err != nil {
		return nil, err
	}
	sources, err := a.reader.Sources(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{Counts: counts}
	for uri, available := range sources {
		st.Sources = append(st.Sources, SourceStatus{URI: uri, Available: available})
	}
	sort.Slice(st.Sources, func(i, j int) bool { return st.Sources[i].URI < st.Sources[j].URI })
	return st, nil
}

// BackupTo writes a consistent copy of the store to path.
func (a *FSGraphApp) BackupTo(path string) error {
	return a.store.BackupTo(path)
}

// Close finalizes the operation and closes all resources. opErr is the
// command's outcome, recorded in the log.
func (a *FSGraphApp) Close(opErr error) error {
	var firstErr error

	if a.monitor != nil {
		if err := a.monitor.Close(); err != nil {
			firstErr = err
		}
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}

	if a.op != nil {
		elapsed := a.op.Finish(opErr, a.clock.Now())
		if opErr != nil {
			a.logger.Error("operation failed", "operation", a.op.Name, "duration", elapsed, "error", opErr)
		} else {
			a.logger.Info("operation finished", "operation", a.op.Name, "duration", elapsed)
		}
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
	return firstErr
}

// MigrateStore brings the configured store schema up to date.
func MigrateStore(cfg *config.Config) error {
	st, err := store.NewStoreFromConfig(cfg.Store, true)
	if err != nil {
		return fmt.Errorf("migrating store: %w", err)
	}
	return st.Close()
}
