package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

// FileStore keeps every record in one YAML file. A sidecar lock file
// serializes access across processes; writes go through a temp file and
// rename so readers never observe a partial document.
type FileStore struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

var _ Gateway = (*FileStore)(nil)

type fileDocument struct {
	Sessions map[string]Record `yaml:"sessions"`
}

func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// Path returns the YAML file backing the store.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) withLock(fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = f.lock.Unlock() }()

	return fn()
}

func (f *FileStore) load() (map[string]Record, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]Record), nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	if doc.Sessions == nil {
		doc.Sessions = make(map[string]Record)
	}
	return doc.Sessions, nil
}

func (f *FileStore) save(records map[string]Record) error {
	data, err := yaml.Marshal(fileDocument{Sessions: records})
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func (f *FileStore) Upsert(_ context.Context, rec Record) error {
	return f.withLock(func() error {
		records, err := f.load()
		if err != nil {
			return err
		}
		records[rec.TaskID] = cloneRecord(rec)
		return f.save(records)
	})
}

func (f *FileStore) Clear(_ context.Context, taskID string) error {
	return f.withLock(func() error {
		records, err := f.load()
		if err != nil {
			return err
		}
		if _, ok := records[taskID]; !ok {
			return nil
		}
		delete(records, taskID)
		return f.save(records)
	})
}

func (f *FileStore) Get(_ context.Context, taskID string) (Record, bool, error) {
	var (
		rec Record
		ok  bool
	)
	err := f.withLock(func() error {
		records, err := f.load()
		if err != nil {
			return err
		}
		rec, ok = records[taskID]
		return nil
	})
	return rec, ok, err
}

func (f *FileStore) List(_ context.Context) ([]Record, error) {
	return f.list(false)
}

func (f *FileStore) ListUnfinished(_ context.Context) ([]Record, error) {
	return f.list(true)
}

func (f *FileStore) list(unfinishedOnly bool) ([]Record, error) {
	var out []Record
	err := f.withLock(func() error {
		records, err := f.load()
		if err != nil {
			return err
		}
		out = sortedRecords(records, unfinishedOnly)
		return nil
	})
	return out, err
}

func (f *FileStore) Close() error {
	return f.lock.Close()
}
