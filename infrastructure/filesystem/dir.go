package filesystem

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"audio-extract-service/domain/media"

	"github.com/google/renameio/v2"
)

// Dir is a flat directory of files addressed by bare filename
type Dir struct {
	root string
}

// NewDir creates the directory if needed and returns a handle to it
func NewDir(root string) (*Dir, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("directory path is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", abs, err)
	}
	return &Dir{root: abs}, nil
}

// Root returns the absolute directory path
func (d *Dir) Root() string {
	return d.root
}

// Path returns the absolute path for name inside the directory
func (d *Dir) Path(name string) string {
	return filepath.Join(d.root, filepath.Base(name))
}

// Exists returns true if the file exists
func (d *Dir) Exists(name string) bool {
	_, err := os.Stat(d.Path(name))
	return err == nil
}

// WriteAtomic streams r into name. The file only appears once every byte has been
// written and synced; on any error, including an exceeded limit, nothing is left behind.
// A negative limit disables the size check.
func (d *Dir) WriteAtomic(name string, r io.Reader, limit int64) (int64, error) {
	pending, err := renameio.NewPendingFile(d.Path(name),
		renameio.WithTempDir(d.root),
		renameio.WithPermissions(0o644),
	)
	if err != nil {
		return 0, fmt.Errorf("create pending file: %w", err)
	}
	// Cleanup is a no-op once the file has been committed
	defer pending.Cleanup()

	src := r
	if limit >= 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(pending, src)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", name, err)
	}
	if limit >= 0 && n > limit {
		return n, media.NewError(media.KindTooLarge, "write "+name,
			fmt.Sprintf("stream exceeds %d bytes", limit), nil)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return n, fmt.Errorf("commit %s: %w", name, err)
	}
	return n, nil
}

// Open opens name for reading
func (d *Dir) Open(name string) (io.ReadSeekCloser, media.StoredFile, error) {
	f, err := os.Open(d.Path(name))
	if err != nil {
		return nil, media.StoredFile{}, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, media.StoredFile{}, err
	}
	return f, media.StoredFile{Name: info.Name(), Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Remove deletes name. It reports whether a file was actually removed; a missing
// file is not an error.
func (d *Dir) Remove(name string) (bool, error) {
	err := os.Remove(d.Path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Entries lists the regular files in the directory sorted by name.
// Dot-prefixed files are renameio temp files and are marked Pending.
func (d *Dir) Entries() ([]media.StoredFile, error) {
	dirEntries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, err
	}

	entries := make([]media.StoredFile, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.Type().IsRegular() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		entries = append(entries, media.StoredFile{
			Name:    de.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Pending: strings.HasPrefix(de.Name(), "."),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Ensure Dir implements media.FileStore
var _ media.FileStore = (*Dir)(nil)
