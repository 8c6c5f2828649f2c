package miner

import (
	"fmt"
	"io/fs"
	"net/url"
	"path/filepath"
)

// Path represents a validated filesystem path with cached metadata.
// Path objects are created by FilesystemManager.Resolve.
type Path struct {
	absPath string
	isDir   bool
	info    fs.FileInfo
}

// NewPath creates a Path from its components.
// This is primarily for use by FilesystemManager implementations.
func NewPath(absPath string, isDir bool, info fs.FileInfo) *Path {
	return &Path{
		absPath: absPath,
		isDir:   isDir,
		info:    info,
	}
}

// String returns the absolute path as a string.
func (p *Path) String() string {
	return p.absPath
}

// IsDir returns true if this path points to a directory.
func (p *Path) IsDir() bool {
	return p.isDir
}

// Info returns the cached file info from when the path was resolved.
func (p *Path) Info() fs.FileInfo {
	return p.info
}

// URI returns the file:// URI of the path.
func (p *Path) URI() string {
	return URIFromPath(p.absPath)
}

// URIFromPath converts an absolute filesystem path into a file:// URI.
func URIFromPath(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

// PathFromURI converts a file:// URI (or a bare absolute path) back into a
// cleaned filesystem path.
func PathFromURI(uri string) (string, error) {
	if filepath.IsAbs(uri) {
		return filepath.Clean(uri), nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parsing uri %q: %w", uri, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported uri scheme %q", u.Scheme)
	}
	if u.Path == "" {
		return "", fmt.Errorf("uri %q has no path", uri)
	}
	return filepath.Clean(filepath.FromSlash(u.Path)), nil
}

// IsUnder reports whether path equals dir or lies beneath it.
func IsUnder(path, dir string) bool {
	if path == dir {
		return true
	}
	if dir == string(filepath.Separator) {
		return len(path) > 1 && path[0] == filepath.Separator
	}
	return len(path) > len(dir) && path[:len(dir)] == dir && path[len(dir)] == filepath.Separator
}

// Reparent rewrites path from beneath oldDir to beneath newDir.
// path must satisfy IsUnder(path, oldDir).
func Reparent(path, oldDir, newDir string) string {
	if path == oldDir {
		return newDir
	}
	return newDir + path[len(oldDir):]
}
