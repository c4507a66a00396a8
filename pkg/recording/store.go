package recording

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zachfi/scannercast/pkg/audio"
	"github.com/zachfi/scannercast/pkg/encoder"
)

// FilePrefix names every temporary recording file.
const FilePrefix = "temporary_streaming_file_"

// maxNameAttempts bounds the suffixes tried when two recordings start in the
// same millisecond.
const maxNameAttempts = 100

// Completed is a finalized recording awaiting dispatch. Whoever consumes it last
// deletes the file.
type Completed struct {
	ID       uuid.UUID
	Path     string
	Metadata *audio.Metadata
	Start    time.Time
	Duration time.Duration
}

// Store creates, reads and deletes recording files under a single directory.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "scannercast", "streaming")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

// Create opens a new recording file named from start and ext.
func (s *Store) Create(start time.Time, ext string) (*Writer, error) {
	base := FilePrefix + strconv.FormatInt(start.UnixMilli(), 10)

	for i := 0; i < maxNameAttempts; i++ {
		name := base
		if i > 0 {
			name += "_" + strconv.Itoa(i)
		}
		path := filepath.Join(s.dir, name+ext)

		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o640)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create recording file: %w", err)
		}
		return &Writer{f: f, path: path}, nil
	}

	return nil, fmt.Errorf("failed to create recording file %s: too many collisions", base)
}

// Finalize closes w and encodes its raw PCM in place. A nil encoder leaves the
// raw PCM untouched.
func (s *Store) Finalize(w *Writer, enc encoder.Encoder) error {
	if err := w.Close(); err != nil {
		return err
	}
	if enc == nil {
		return nil
	}

	raw, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("failed to read raw recording: %w", err)
	}

	encoded, err := enc.Encode(raw)
	if err != nil {
		return fmt.Errorf("failed to encode recording: %w", err)
	}

	if err := os.WriteFile(w.path, encoded, 0o640); err != nil {
		return fmt.Errorf("failed to write encoded recording: %w", err)
	}
	return nil
}

// Read returns the full payload of a recording file.
func (s *Store) Read(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}
	return b, nil
}

// Delete removes a recording file. Deleting a missing file is not an error.
func (s *Store) Delete(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete recording: %w", err)
	}
	return nil
}

// Purge deletes leftover recording files, typically from an unclean shutdown.
func (s *Store) Purge() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list recording directory: %w", err)
	}

	var (
		removed int
		errs    []error
	)
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), FilePrefix) {
			continue
		}
		if err := s.Delete(filepath.Join(s.dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	return removed, errors.Join(errs...)
}

// Writer appends raw PCM to an in-progress recording file.
type Writer struct {
	f      *os.File
	path   string
	length int64
}

func (w *Writer) Path() string { return w.path }

// Duration of the PCM appended so far.
func (w *Writer) Duration() time.Duration { return audio.PCMDuration(w.length) }

func (w *Writer) Append(pcm []byte) error {
	n, err := w.f.Write(pcm)
	w.length += int64(n)
	if err != nil {
		return fmt.Errorf("failed to append to recording: %w", err)
	}
	return nil
}

// Close is idempotent.
func (w *Writer) Close() error {
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	if err != nil {
		return fmt.Errorf("failed to close recording: %w", err)
	}
	return nil
}
