package source

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
)

// FileSource reads a JSON array of canonical records, as produced by the
// CSV parsing step, from a file below BaseDir. The cursor is the index of
// the first record of the page.
type FileSource struct {
	path string
}

// NewFileSourceFactory resolves job.Options.SourceRef against baseDir.
// Paths escaping baseDir are rejected.
func NewFileSourceFactory(baseDir string) Factory {
	if baseDir == "" {
		baseDir = "."
	}
	return func(_ context.Context, job domain.Job) (domain.SourceAdapter, error) {
		path, err := resolvePath(baseDir, job.Options.SourceRef)
		if err != nil {
			return nil, err
		}
		return &FileSource{path: path}, nil
	}
}

func resolvePath(baseDir, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", domain.Terminal(errors.New("file source needs a source_ref"))
	}
	if filepath.IsAbs(ref) {
		return "", domain.Terminal(errors.Newf("source_ref %q must be relative to the import directory", ref))
	}

	base, err := filepath.Abs(baseDir)
	if err != nil {
		return "", errors.Wrap(err, "resolve import directory")
	}
	path := filepath.Join(base, ref)
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", domain.Terminal(errors.Newf("source_ref %q escapes the import directory", ref))
	}
	return path, nil
}

func (s *FileSource) FetchPage(ctx context.Context, cursor string, limit int) (domain.Page, error) {
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return domain.Page{}, domain.Terminal(errors.Newf("invalid file cursor %q", cursor))
		}
		offset = n
	}
	if limit <= 0 {
		limit = 1
	}

	var page domain.Page
	index := 0
	more := false
	err := s.scan(ctx, func(dec *json.Decoder) (bool, error) {
		if index < offset {
			index++
			var skip json.RawMessage
			return true, dec.Decode(&skip)
		}
		if len(page.Records) == limit {
			more = true
			return false, nil
		}
		var rec domain.CanonicalRecord
		if err := dec.Decode(&rec); err != nil {
			return false, err
		}
		page.Records = append(page.Records, rec)
		index++
		return true, nil
	})
	if err != nil {
		return domain.Page{}, err
	}

	if more {
		next := strconv.Itoa(index)
		page.NextCursor = &next
	}
	return page, nil
}

func (s *FileSource) EstimateTotal(ctx context.Context) (int64, error) {
	var total int64
	err := s.scan(ctx, func(dec *json.Decoder) (bool, error) {
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return false, err
		}
		total++
		return true, nil
	})
	return total, err
}

// scan streams the array element by element; visit returns false to stop.
func (s *FileSource) scan(ctx context.Context, visit func(dec *json.Decoder) (bool, error)) error {
	file, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return domain.Terminal(errors.Wrapf(err, "open %s", s.path))
		}
		return domain.Transient(errors.Wrapf(err, "open %s", s.path))
	}
	defer file.Close()

	dec := json.NewDecoder(file)
	token, err := dec.Token()
	if err != nil {
		return domain.Terminal(errors.Wrap(err, "read json start token"))
	}
	if delim, ok := token.(json.Delim); !ok || delim != '[' {
		return domain.Terminal(errors.New("import file must be a JSON array"))
	}

	for dec.More() {
		if err := ctx.Err(); err != nil {
			return err
		}
		cont, err := visit(dec)
		if err != nil {
			return domain.Terminal(errors.Wrap(err, "decode record"))
		}
		if !cont {
			return nil
		}
	}
	return nil
}
