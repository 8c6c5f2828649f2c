package miner

import (
	"io"
	"io/fs"
)

// FilesystemManager abstracts filesystem access so the crawler, the
// synchronizer and the extractors can be exercised without touching disk.
type FilesystemManager interface {
	// Resolve validates a raw path and returns a Path object.
	// It resolves the path to an absolute path, stats it, and rejects
	// special files (symlinks, devices, pipes, sockets).
	Resolve(rawPath string) (*Path, error)

	// Stat returns fresh file info without following symlinks.
	Stat(path string) (fs.FileInfo, error)

	// ReadDir lists the entries of a directory sorted by name.
	ReadDir(path string) ([]fs.DirEntry, error)

	// Open opens a regular file for reading.
	Open(path string) (io.ReadCloser, error)
}
