package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// ErrNotFound is returned when the named file does not exist in the folder.
var ErrNotFound = errors.New("file not found")

// ErrInvalidName is returned for names that would escape the folder.
var ErrInvalidName = errors.New("invalid file name")

// FileEntry describes one regular file of a folder.
type FileEntry struct {
	Name string
	Size int64
}

// FileManager gives access to the regular files of a single folder.
type FileManager struct {
	baseDir string
}

// NewFileManager creates baseDir if needed.
func NewFileManager(baseDir string) (*FileManager, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create folder %s: %w", baseDir, err)
	}
	return &FileManager{baseDir: baseDir}, nil
}

// Dir returns the folder this manager works in.
func (fm *FileManager) Dir() string {
	return fm.baseDir
}

func (fm *FileManager) path(filename string) (string, error) {
	if filename == "" || filename == "." || filename == ".." || filepath.Base(filename) != filename {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, filename)
	}
	return filepath.Join(fm.baseDir, filename), nil
}

// ListFiles returns the regular files of the folder sorted by name.
func (fm *FileManager) ListFiles() ([]FileEntry, error) {
	entries, err := os.ReadDir(fm.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read folder %s: %w", fm.baseDir, err)
	}

	files := make([]FileEntry, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		files = append(files, FileEntry{Name: entry.Name(), Size: info.Size()})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Stat returns the entry for filename or ErrNotFound.
func (fm *FileManager) Stat(filename string) (FileEntry, error) {
	path, err := fm.path(filename)
	if err != nil {
		return FileEntry{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return FileEntry{}, fmt.Errorf("%w: %s", ErrNotFound, filename)
		}
		return FileEntry{}, fmt.Errorf("failed to stat %s: %w", filename, err)
	}
	if !info.Mode().IsRegular() {
		return FileEntry{}, fmt.Errorf("%w: %s", ErrNotFound, filename)
	}
	return FileEntry{Name: filename, Size: info.Size()}, nil
}

// OpenRead opens filename positioned skipBytes from its start and returns
// the full length of the file. Skipping past the end yields an empty stream.
func (fm *FileManager) OpenRead(filename string, skipBytes int64) (io.ReadCloser, int64, error) {
	entry, err := fm.Stat(filename)
	if err != nil {
		return nil, 0, err
	}

	path, _ := fm.path(filename)
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, filename)
		}
		return nil, 0, fmt.Errorf("failed to open %s: %w", filename, err)
	}

	if skipBytes > 0 {
		if _, err := file.Seek(skipBytes, io.SeekStart); err != nil {
			file.Close()
			return nil, 0, fmt.Errorf("failed to seek %s to %d: %w", filename, skipBytes, err)
		}
	}
	return file, entry.Size, nil
}

// OpenWrite opens filename for writing, appending to existing content when
// appendMode is set and truncating it otherwise.
func (fm *FileManager) OpenWrite(filename string, appendMode bool) (io.WriteCloser, error) {
	path, err := fm.path(filename)
	if err != nil {
		return nil, err
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s for writing: %w", filename, err)
	}
	return file, nil
}
