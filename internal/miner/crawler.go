package miner

import "context"

// Crawler walks a directory tree breadth-first and emits a Created event per
// in-scope entry, each directory before its children. It does not emit the
// terminating OpCrawlFinished; the synchronizer does.
type Crawler interface {
	Crawl(ctx context.Context, root string, recursive bool, emit func(Event) error) error
}

// Watcher receives the directories the synchronizer registers so that live
// monitoring covers exactly the indexed tree.
type Watcher interface {
	Watch(dir string) error
	Unwatch(dir string) error
}
