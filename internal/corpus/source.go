package corpus

import (
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Source is one corpus document.
type Source struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// StringSource wraps in-memory text as a Source.
func StringSource(name, text string) Source {
	return Source{
		Name: name,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(text)), nil
		},
	}
}

// FileSource reads the file at path.
func FileSource(path string) Source {
	return Source{
		Name: path,
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// DirectorySources lists every file under dir whose extension is ext. Other
// files are logged and counted in skipped. An entry below dir that cannot be
// read is logged and counted in failed; only a failure on dir itself is
// returned.
func DirectorySources(dir, ext string, logger *slog.Logger) (sources []Source, skipped, failed int, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &dirWalk{root: dir, ext: ext, logger: logger}
	err = filepath.WalkDir(dir, w.visit)
	return w.sources, w.skipped, w.failed, err
}

type dirWalk struct {
	root    string
	ext     string
	logger  *slog.Logger
	sources []Source
	skipped int
	failed  int
}

func (w *dirWalk) visit(path string, d fs.DirEntry, err error) error {
	if err != nil {
		if path == w.root {
			return err
		}
		w.logger.Warn("unable to read corpus entry", "path", path, "error", err)
		w.failed++
		if d != nil && d.IsDir() {
			return fs.SkipDir
		}
		return nil
	}
	if d.IsDir() {
		return nil
	}
	if !strings.EqualFold(filepath.Ext(path), w.ext) {
		w.logger.Info("skipping corpus file with unexpected extension",
			"path", path,
			"want", w.ext,
		)
		w.skipped++
		return nil
	}
	w.sources = append(w.sources, FileSource(path))
	return nil
}
