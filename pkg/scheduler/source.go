package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mimir-aip/mimir-curation/pkg/cas"
)

// DocumentSource supplies the annotated documents of users.
// Every call returns CASes owned by the caller.
type DocumentSource interface {
	// Users lists the users that have documents
	Users(ctx context.Context) ([]string, error)

	// Documents returns the CASes of a user keyed by document name
	Documents(ctx context.Context, user string) (map[string]*cas.CAS, error)
}

// FileSource reads CAS JSON files laid out as <dir>/<user>/<document>.json
type FileSource struct {
	dir string
}

// NewFileSource creates a document source over a directory
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

// Users lists the user directories
func (s *FileSource) Users(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	var users []string
	for _, entry := range entries {
		if entry.IsDir() {
			users = append(users, entry.Name())
		}
	}
	sort.Strings(users)
	return users, nil
}

// Documents loads every CAS file of a user
func (s *FileSource) Documents(ctx context.Context, user string) (map[string]*cas.CAS, error) {
	if user == "" || strings.ContainsAny(user, `/\`) || user == "." || user == ".." {
		return nil, fmt.Errorf("invalid user name: %q", user)
	}

	paths, err := filepath.Glob(filepath.Join(s.dir, user, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list documents of %s: %w", user, err)
	}

	docs := make(map[string]*cas.CAS, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := cas.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load document %s: %w", path, err)
		}
		docs[strings.TrimSuffix(filepath.Base(path), ".json")] = c
	}
	return docs, nil
}
