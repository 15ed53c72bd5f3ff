// Package archive keeps private copies of user-selected images in a hidden
// directory that gallery scanners skip.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"

	"github.com/akash-ravi/pomegranate-app/internal/faults"
)

const (
	// HiddenDirName is the archive directory created under the data root.
	HiddenDirName = ".pomegranate"
	// MarkerName keeps media scanners out of the archive directory.
	MarkerName = ".nomedia"

	defaultExt  = ".jpg"
	maxAttempts = 16
)

// imageExtensions are the extensions the tensor codec can decode. Anything
// else is archived as .jpg.
var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".bmp":  {},
	".tif":  {},
	".tiff": {},
	".webp": {},
}

// SourceImage is a user selection. An empty URI means nothing was picked.
type SourceImage struct {
	URI      string `json:"uri"`
	Filename string `json:"filename"`
}

// Empty reports whether nothing was selected.
func (s SourceImage) Empty() bool {
	return strings.TrimSpace(s.URI) == ""
}

// ArchivedImage is an immutable archived copy.
type ArchivedImage struct {
	Path string `json:"path"`
}

// Option customizes an Archive.
type Option func(*Archive)

// WithClock overrides the time source used for file names.
func WithClock(now func() time.Time) Option {
	return func(a *Archive) {
		a.now = now
	}
}

// WithLogger sets the archive logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Archive copies images into <root>/.pomegranate.
type Archive struct {
	fs     afero.Fs
	dir    string
	now    func() time.Time
	logger *slog.Logger

	mu         sync.Mutex
	lastMillis int64
}

// New creates an archive rooted at root on fs.
func New(fsys afero.Fs, root string, opts ...Option) *Archive {
	a := &Archive{
		fs:     fsys,
		dir:    filepath.Join(root, HiddenDirName),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Dir returns the hidden archive directory.
func (a *Archive) Dir() string {
	return a.dir
}

// Archive copies src verbatim into a new file and returns its path. The
// source is left untouched.
func (a *Archive) Archive(ctx context.Context, src SourceImage) (ArchivedImage, error) {
	if err := ctx.Err(); err != nil {
		return ArchivedImage{}, err
	}
	if src.Empty() {
		return ArchivedImage{}, faults.New(faults.KindIO, "archive", "source uri is empty")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ensureDir(); err != nil {
		return ArchivedImage{}, err
	}

	in, err := a.fs.Open(src.URI)
	if err != nil {
		return ArchivedImage{}, faults.Wrap(faults.KindIO, "archive", eris.Wrapf(err, "open source %s", src.URI))
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return ArchivedImage{}, faults.Wrap(faults.KindIO, "archive", eris.Wrap(err, "stat source"))
	}
	if info.IsDir() {
		return ArchivedImage{}, faults.New(faults.KindIO, "archive", "source %s is a directory", src.URI)
	}

	ext := extensionFor(src)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		dst := filepath.Join(a.dir, fmt.Sprintf("image_%d%s", a.nextMillis(), ext))
		out, err := a.fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return ArchivedImage{}, faults.Wrap(faults.KindIO, "archive", eris.Wrapf(err, "create %s", dst))
		}

		written, err := io.Copy(out, in)
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			_ = a.fs.Remove(dst)
			return ArchivedImage{}, faults.Wrap(faults.KindIO, "archive", eris.Wrapf(err, "copy to %s", dst))
		}

		a.logger.Debug("image archived", "source", src.URI, "path", dst, "bytes", written)
		return ArchivedImage{Path: dst}, nil
	}
	return ArchivedImage{}, faults.New(faults.KindIO, "archive", "no free file name after %d attempts", maxAttempts)
}

// ensureDir creates the hidden directory and its marker only when absent.
func (a *Archive) ensureDir() error {
	exists, err := afero.DirExists(a.fs, a.dir)
	if err != nil {
		return faults.Wrap(faults.KindIO, "archive", eris.Wrap(err, "check archive dir"))
	}
	if !exists {
		if err := a.fs.MkdirAll(a.dir, 0o755); err != nil {
			return faults.Wrap(faults.KindIO, "archive", eris.Wrapf(err, "create %s", a.dir))
		}
		a.logger.Info("archive directory created", "dir", a.dir)
	}

	marker := filepath.Join(a.dir, MarkerName)
	exists, err = afero.Exists(a.fs, marker)
	if err != nil {
		return faults.Wrap(faults.KindIO, "archive", eris.Wrap(err, "check marker"))
	}
	if !exists {
		if err := afero.WriteFile(a.fs, marker, nil, 0o644); err != nil {
			return faults.Wrap(faults.KindIO, "archive", eris.Wrapf(err, "write %s", marker))
		}
	}
	return nil
}

// nextMillis returns a millisecond timestamp strictly greater than any this
// archive handed out before.
func (a *Archive) nextMillis() int64 {
	millis := a.now().UnixMilli()
	if millis <= a.lastMillis {
		millis = a.lastMillis + 1
	}
	a.lastMillis = millis
	return millis
}

func extensionFor(src SourceImage) string {
	for _, name := range []string{src.Filename, src.URI} {
		ext := strings.ToLower(filepath.Ext(name))
		if _, ok := imageExtensions[ext]; ok {
			return ext
		}
	}
	return defaultExt
}
