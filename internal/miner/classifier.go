package miner

// Root is an indexed directory tree.
type Root struct {
	Path      string
	Recursive bool
	Removable bool
}

// Classification is the verdict for one path.
type Classification struct {
	InScope           bool
	TextIndexEligible bool
	// Hint is the MIME type guessed from the name; "application/octet-stream"
	// when unknown.
	Hint string
	// Root is the deepest root covering the path.
	Root Root
}

// IsRoot reports whether the classified path is its root's directory.
func (c Classification) IsRoot(path string) bool {
	return c.InScope && c.Root.Path == path
}

// Classifier decides scope and text-index eligibility. Classification is
// evaluated per call and never cached, so root and pattern changes apply to
// the next event.
type Classifier interface {
	Classify(path string, isDir bool) Classification
	AddRoot(root Root) error
	RemoveRoot(path string)
	Roots() []Root
}
