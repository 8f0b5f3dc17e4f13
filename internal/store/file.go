package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// fileContents is the on-disk layout of the credentials file.
type fileContents struct {
	Accounts map[string]Record `json:"accounts"` // key = account id
}

// FileStore keeps every account's record in one JSON file (mode 0600).
// Writes hold a lock file and replace the file through an atomic rename.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the credentials file location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(_ context.Context, accountID string) (Record, error) {
	contents, err := s.read()
	if err != nil {
		return Record{}, wrap("get", accountID, err)
	}
	rec, ok := contents.Accounts[accountID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *FileStore) Put(ctx context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return wrap("put", rec.Account.ID(), err)
	}
	id := rec.Account.ID()
	return wrap("put", id, s.update(ctx, func(c *fileContents) bool {
		c.Accounts[id] = rec
		return true
	}))
}

func (s *FileStore) Delete(ctx context.Context, accountID string) error {
	return wrap("delete", accountID, s.update(ctx, func(c *fileContents) bool {
		if _, ok := c.Accounts[accountID]; !ok {
			return false
		}
		delete(c.Accounts, accountID)
		return true
	}))
}

func (s *FileStore) List(_ context.Context, accountType string) ([]Account, error) {
	contents, err := s.read()
	if err != nil {
		return nil, wrap("list", "", err)
	}
	var out []Account
	for _, rec := range contents.Accounts {
		if accountType == "" || rec.Account.Type == accountType {
			out = append(out, rec.Account)
		}
	}
	sortAccounts(out)
	return out, nil
}

// read loads the file; a missing file is an empty store.
func (s *FileStore) read() (*fileContents, error) {
	contents := &fileContents{Accounts: make(map[string]Record)}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return contents, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, contents); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if contents.Accounts == nil {
		contents.Accounts = make(map[string]Record)
	}
	return contents, nil
}

// update applies mutate under the file lock and writes the result back when
// mutate reports a change.
func (s *FileStore) update(ctx context.Context, mutate func(*fileContents) bool) (err error) {
	lock, err := acquireFileLock(ctx, s.path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil && err == nil {
			err = fmt.Errorf("failed to release lock: %w", releaseErr)
		}
	}()

	// Read inside the lock so concurrent writers never lose each other's accounts
	contents, err := s.read()
	if err != nil {
		return err
	}
	if !mutate(contents) {
		return nil
	}

	data, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return err
	}

	tempFile := s.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, s.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
