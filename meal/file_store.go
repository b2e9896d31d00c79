package meal

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/framefighter/ate/internal/fsstore"
)

const (
	mealsFileName = "meals.json"
	lockDirName   = ".fslocks"
	mealsLockKey  = "meals"
)

// FileStore persists the whole meal collection as one JSON document,
// written atomically and guarded by an advisory file lock so a backup run
// can coexist with a serving bot.
type FileStore struct {
	dataDir  string
	path     string
	lockPath string
}

func NewFileStore(dataDir string) (*FileStore, error) {
	if err := fsstore.EnsureDir(dataDir, 0); err != nil {
		return nil, err
	}
	lockPath, err := fsstore.BuildLockPath(filepath.Join(dataDir, lockDirName), mealsLockKey)
	if err != nil {
		return nil, err
	}
	return &FileStore{
		dataDir:  dataDir,
		path:     filepath.Join(dataDir, mealsFileName),
		lockPath: lockPath,
	}, nil
}

type mealsFile struct {
	Meals map[string]Meal `json:"meals"`
}

func (s *FileStore) Get(ctx context.Context, name string) (Meal, error) {
	doc, err := s.read()
	if err != nil {
		return Meal{}, err
	}
	m, ok := doc.Meals[NormalizeName(name)]
	if !ok {
		return Meal{}, ErrNotFound
	}
	return m, nil
}

func (s *FileStore) List(ctx context.Context) ([]Meal, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(doc.Meals))
	for key := range doc.Meals {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]Meal, 0, len(keys))
	for _, key := range keys {
		out = append(out, doc.Meals[key])
	}
	return out, nil
}

func (s *FileStore) Put(ctx context.Context, m Meal) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return s.mutate(ctx, func(doc *mealsFile) error {
		doc.Meals[m.Key()] = m
		return nil
	})
}

func (s *FileStore) Delete(ctx context.Context, name string) error {
	key := NormalizeName(name)
	return s.mutate(ctx, func(doc *mealsFile) error {
		if _, ok := doc.Meals[key]; !ok {
			return ErrNotFound
		}
		delete(doc.Meals, key)
		return nil
	})
}

func (s *FileStore) read() (mealsFile, error) {
	var doc mealsFile
	ok, err := fsstore.ReadJSON(s.path, &doc)
	if err != nil {
		return mealsFile{}, fmt.Errorf("meal store: %w", err)
	}
	if !ok || doc.Meals == nil {
		doc.Meals = map[string]Meal{}
	}
	return doc, nil
}

func (s *FileStore) mutate(ctx context.Context, fn func(*mealsFile) error) error {
	return fsstore.WithLock(ctx, s.lockPath, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		if err := fn(&doc); err != nil {
			return err
		}
		return fsstore.WriteJSONAtomic(s.path, doc, fsstore.FileOptions{})
	})
}
