package docstore

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/willbeason/bondsmith/fileio"
	"github.com/willbeason/bondsmith/jsonio"
)

const checkEvery = 1 << 10

// JSONL serves collections from JSON-lines dumps. A collection named C is the
// set of files in the directory whose names match C*.jsonl or C*.jsonl.gz. If
// the path is a single file, every collection name resolves to that file.
type JSONL struct {
	path string
}

func NewJSONL(path string) (*JSONL, error) {
	_, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDocumentStore, err)
	}
	return &JSONL{path: path}, nil
}

// ListFiles returns the dump files of path, sorted by name. If path is a file
// it is returned alone; prefix filters the files of a directory.
func ListFiles(path, prefix string) ([]string, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !stat.IsDir() {
		return []string{path}, nil
	}

	pattern, err := regexp.Compile("^" + regexp.QuoteMeta(prefix) + `.*\.jsonl(\.gz)?$`)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !pattern.MatchString(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(path, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// OpenFiles returns a single stream over the concatenated files, which must be
// either all gzip-compressed or all uncompressed.
func OpenFiles(paths []string) (io.Reader, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no files", ErrDocumentStore)
	}

	compressed := strings.HasSuffix(paths[0], ".gz")
	for _, path := range paths[1:] {
		if strings.HasSuffix(path, ".gz") != compressed {
			return nil, fmt.Errorf("%w: %q and %q differ in compression", ErrDocumentStore, paths[0], path)
		}
	}

	var reader io.Reader = fileio.NewMultiFileReader(paths)
	if compressed {
		// gzip correctly handles concatenated files.
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, fmt.Errorf("%w: creating gzip reader: %w", ErrDocumentStore, err)
		}
		reader = gz
	}
	return reader, nil
}

// ReadDocuments decodes one Document per line of r.
func ReadDocuments(ctx context.Context, r io.Reader) ([]Document, error) {
	entries := jsonio.NewReader(r, func() *Document {
		d := make(Document)
		return &d
	})

	var docs []Document
	for entry, err := range entries.Read() {
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: decoding document %d: %w", ErrDocumentStore, len(docs), err)
		}
		docs = append(docs, *entry)

		if len(docs)%checkEvery == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return docs, nil
}

func (s *JSONL) FetchAll(ctx context.Context, collection string) ([]Document, error) {
	paths, err := ListFiles(s.path, collection)
	if err != nil {
		return nil, fmt.Errorf("%w: listing %q: %w", ErrDocumentStore, s.path, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no dump files for collection %q in %q", ErrDocumentStore, collection, s.path)
	}

	reader, err := OpenFiles(paths)
	if err != nil {
		return nil, err
	}
	return ReadDocuments(ctx, reader)
}

func (s *JSONL) InsertAll(context.Context, string, []Document) (int, error) {
	return 0, ErrReadOnly
}

func (s *JSONL) Close(context.Context) error {
	return nil
}
