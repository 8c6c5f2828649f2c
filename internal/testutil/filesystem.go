package testutil

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"fsgraph/internal/miner"
)

// MockFile represents a file in the mock filesystem.
type MockFile struct {
	Content     []byte
	Permissions fs.FileMode
	ModTime     time.Time
	IsDirectory bool
}

// MockFilesystemManager is an in-memory filesystem for testing. Every
// change gets a fresh, strictly increasing mtime. Safe for concurrent use.
type MockFilesystemManager struct {
	mu    sync.Mutex
	files map[string]*MockFile
	clock time.Time
}

// NewMockFilesystemManager creates a new mock filesystem.
func NewMockFilesystemManager() *MockFilesystemManager {
	return &MockFilesystemManager{
		files: make(map[string]*MockFile),
		clock: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}
}

func (m *MockFilesystemManager) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

// AddFile adds a file, creating missing parent directories.
func (m *MockFilesystemManager) AddFile(path string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirAll(filepath.Dir(path))
	m.files[path] = &MockFile{Content: content, Permissions: 0644, ModTime: m.tick()}
	m.touchParent(path)
}

// AddDirectory adds a directory, creating missing parents.
func (m *MockFilesystemManager) AddDirectory(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirAll(path)
}

// AddSpecial adds a non-regular, non-directory entry such as a named pipe.
func (m *MockFilesystemManager) AddSpecial(path string, mode fs.FileMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirAll(filepath.Dir(path))
	m.files[path] = &MockFile{Permissions: mode | 0644, ModTime: m.tick()}
}

// UpdateFile replaces a file's content and advances its mtime.
func (m *MockFilesystemManager) UpdateFile(path string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[path]
	if !ok || f.IsDirectory {
		panic(fmt.Sprintf("UpdateFile: no file at %s", path))
	}
	f.Content = content
	f.ModTime = m.tick()
}

// Touch advances a path's mtime without changing content.
func (m *MockFilesystemManager) Touch(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[path]; ok {
		f.ModTime = m.tick()
	}
}

// Remove deletes a path and everything beneath it.
func (m *MockFilesystemManager) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := range m.files {
		if miner.IsUnder(p, path) {
			delete(m.files, p)
		}
	}
	m.touchParent(path)
}

// Rename moves a path and everything beneath it, replacing the target.
func (m *MockFilesystemManager) Rename(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := range m.files {
		if miner.IsUnder(p, to) {
			delete(m.files, p)
		}
	}
	moved := make(map[string]*MockFile)
	for p, f := range m.files {
		if miner.IsUnder(p, from) {
			moved[miner.Reparent(p, from, to)] = f
			delete(m.files, p)
		}
	}
	for p, f := range moved {
		m.files[p] = f
	}
	m.touchParent(from)
	m.touchParent(to)
}

func (m *MockFilesystemManager) mkdirAll(path string) {
	for p := path; ; p = filepath.Dir(p) {
		if _, ok := m.files[p]; !ok {
			m.files[p] = &MockFile{Permissions: fs.ModeDir | 0755, ModTime: m.tick(), IsDirectory: true}
		}
		if p == filepath.Dir(p) {
			return
		}
	}
}

func (m *MockFilesystemManager) touchParent(path string) {
	if parent, ok := m.files[filepath.Dir(path)]; ok && parent.IsDirectory {
		parent.ModTime = m.tick()
	}
}

func (m *MockFilesystemManager) info(path string) (*mockFileInfo, error) {
	file, ok := m.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "lstat", Path: path, Err: fs.ErrNotExist}
	}
	return &mockFileInfo{
		name:    filepath.Base(path),
		size:    int64(len(file.Content)),
		mode:    file.Permissions,
		modTime: file.ModTime,
		isDir:   file.IsDirectory,
	}, nil
}

func (m *MockFilesystemManager) Resolve(rawPath string) (*miner.Path, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	info, err := m.info(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat path: %w", err)
	}
	return miner.NewPath(absPath, info.isDir, info), nil
}

func (m *MockFilesystemManager) Open(path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	if file.IsDirectory {
		return nil, fmt.Errorf("cannot open directory: %s", path)
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(file.Content))), nil
}

func (m *MockFilesystemManager) Stat(path string) (fs.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, err := m.info(path)
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (m *MockFilesystemManager) ReadDir(path string) ([]fs.DirEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dir, ok := m.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: path, Err: fs.ErrNotExist}
	}
	if !dir.IsDirectory {
		return nil, fmt.Errorf("not a directory: %s", path)
	}

	prefix := strings.TrimSuffix(path, string(filepath.Separator)) + string(filepath.Separator)
	var entries []fs.DirEntry
	for p := range m.files {
		if p == path || !strings.HasPrefix(p, prefix) || strings.ContainsRune(p[len(prefix):], filepath.Separator) {
			continue
		}
		info, _ := m.info(p)
		entries = append(entries, fs.FileInfoToDirEntry(info))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

// mockFileInfo implements fs.FileInfo
type mockFileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
	isDir   bool
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() fs.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return m.isDir }
func (m *mockFileInfo) Sys() any           { return nil }

// Compile-time check
var _ miner.FilesystemManager = (*MockFilesystemManager)(nil)
