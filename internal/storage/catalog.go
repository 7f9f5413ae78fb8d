package storage

import (
	"fmt"
	"sync"
)

// DiscoveredFile is a remote file learned from a search result, together
// with the progress of downloading it.
type DiscoveredFile struct {
	PeerName        string
	FileName        string
	FileSize        int64
	DownloadedBytes int64
	Completed       bool
}

// Catalog is the append-only list of discovered files. Entries are
// addressed by their position and never move.
type Catalog struct {
	mu      sync.Mutex
	files   []DiscoveredFile
	changed chan struct{}
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{changed: make(chan struct{})}
}

// Add appends a new entry unless one already exists for the same peer and
// file name. It reports whether an entry was added.
func (c *Catalog) Add(peerName, fileName string, fileSize int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, f := range c.files {
		if f.PeerName == peerName && f.FileName == fileName {
			return false
		}
	}

	c.files = append(c.files, DiscoveredFile{
		PeerName: peerName,
		FileName: fileName,
		FileSize: fileSize,
	})

	close(c.changed)
	c.changed = make(chan struct{})
	return true
}

// Changed returns a channel that is closed the next time an entry is added.
func (c *Catalog) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// Len returns the number of discovered files.
func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.files)
}

// Get returns a copy of the entry at index.
func (c *Catalog) Get(index int) (DiscoveredFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkIndex(index); err != nil {
		return DiscoveredFile{}, err
	}
	return c.files[index], nil
}

// List returns a snapshot of all entries in insertion order.
func (c *Catalog) List() []DiscoveredFile {
	c.mu.Lock()
	defer c.mu.Unlock()

	files := make([]DiscoveredFile, len(c.files))
	copy(files, c.files)
	return files
}

// BeginDownload prepares the entry at index for a transfer attempt. A file
// that was already fully downloaded starts over from byte 0; an interrupted
// one keeps its offset so the transfer can resume.
func (c *Catalog) BeginDownload(index int) (DiscoveredFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkIndex(index); err != nil {
		return DiscoveredFile{}, err
	}

	f := &c.files[index]
	if f.DownloadedBytes >= f.FileSize {
		f.DownloadedBytes = 0
	}
	f.Completed = false
	return *f, nil
}

// RestartDownload drops the progress of the entry at index so the next
// transfer starts from byte 0.
func (c *Catalog) RestartDownload(index int) (DiscoveredFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkIndex(index); err != nil {
		return DiscoveredFile{}, err
	}

	f := &c.files[index]
	f.DownloadedBytes = 0
	f.Completed = false
	return *f, nil
}

// AddProgress records n more bytes written to disk and returns the new total.
func (c *Catalog) AddProgress(index int, n int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.checkIndex(index) != nil {
		return 0
	}
	c.files[index].DownloadedBytes += n
	return c.files[index].DownloadedBytes
}

// FinishDownload closes a transfer attempt against the length reported by
// the serving peer and reports whether the file is now complete.
func (c *Catalog) FinishDownload(index int, length int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.checkIndex(index) != nil {
		return false
	}

	f := &c.files[index]
	f.FileSize = length
	f.Completed = f.DownloadedBytes == length
	return f.Completed
}

func (c *Catalog) checkIndex(index int) error {
	if index < 0 || index >= len(c.files) {
		return fmt.Errorf("%w: no discovered file at index %d", ErrNotFound, index)
	}
	return nil
}
