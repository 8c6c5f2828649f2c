package miner

import "time"

// Op identifies what happened to a path.
type Op int

const (
	OpCreated Op = iota + 1
	OpModified
	OpDeleted
	OpMovedFrom
	OpMovedTo
	OpAttributeChanged
	// OpCrawlFinished marks the end of a crawl; Path is the crawled root.
	OpCrawlFinished
)

func (op Op) String() string {
	switch op {
	case OpCreated:
		return "created"
	case OpModified:
		return "modified"
	case OpDeleted:
		return "deleted"
	case OpMovedFrom:
		return "moved-from"
	case OpMovedTo:
		return "moved-to"
	case OpAttributeChanged:
		return "attribute-changed"
	case OpCrawlFinished:
		return "crawl-finished"
	default:
		return "unknown"
	}
}

// Origin records who produced an event.
type Origin int

const (
	OriginMonitor Origin = iota
	OriginCrawl
	OriginRequest
	OriginSynthetic
)

func (o Origin) String() string {
	switch o {
	case OriginMonitor:
		return "monitor"
	case OriginCrawl:
		return "crawl"
	case OriginRequest:
		return "request"
	case OriginSynthetic:
		return "synthetic"
	default:
		return "unknown"
	}
}

// Event is a single filesystem change fed into the synchronizer.
// MovedFrom/MovedTo halves of one rename share a Token.
type Event struct {
	Op     Op
	Path   string
	IsDir  bool
	Token  string
	Time   time.Time
	Origin Origin

	// Crawl identifies the crawl that produced the event, if any.
	Crawl uint64
	// Force re-extracts content even when the fingerprint is unchanged.
	Force bool
	// Graphs limits forced re-extraction to the named content graphs.
	Graphs []string
	// Failed marks an OpCrawlFinished whose crawl ended early.
	Failed bool
}
