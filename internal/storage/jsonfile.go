// internal/storage/jsonfile.go
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"mcp-calorie-log/internal/models"
)

// document is the on-disk layout: user id -> calendar date -> meals in order.
type document map[string]map[string][]models.MealRecord

// JSONFileStorage keeps the whole ledger in one JSON document. Every
// mutation re-reads the file, changes one bucket and rewrites it through a
// temp file and rename, all under a single mutex.
type JSONFileStorage struct {
	mu   sync.Mutex
	path string
}

func NewJSONFileStorage(path string) (*JSONFileStorage, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	s := &JSONFileStorage{path: path}
	// Fail early on an unreadable file instead of on the first meal.
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONFileStorage) Close() error { return nil }

func (s *JSONFileStorage) load() (document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}
	if len(data) == 0 {
		return document{}, nil
	}

	doc := document{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode data file: %w", err)
	}
	return doc, nil
}

func (s *JSONFileStorage) save(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode data file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace data file: %w", err)
	}
	return nil
}

// update runs fn on the loaded document and saves it when fn reports a change.
func (s *JSONFileStorage) update(fn func(doc document) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if !fn(doc) {
		return nil
	}
	return s.save(doc)
}

func (s *JSONFileStorage) Append(_ context.Context, day string, meal models.MealRecord) error {
	return s.update(func(doc document) bool {
		days := doc[meal.UserID]
		if days == nil {
			days = map[string][]models.MealRecord{}
			doc[meal.UserID] = days
		}
		meal.UserID = ""
		days[day] = append(days[day], meal)
		return true
	})
}

func (s *JSONFileStorage) List(_ context.Context, userID, day string) ([]models.MealRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	meals := doc[userID][day]
	for i := range meals {
		meals[i].UserID = userID
	}
	return meals, nil
}

func (s *JSONFileStorage) ReplaceLast(_ context.Context, userID, day, expectedID string, meal models.MealRecord) (bool, error) {
	var replaced bool
	err := s.update(func(doc document) bool {
		meals := doc[userID][day]
		if len(meals) == 0 || !tailMatches(meals[len(meals)-1].ID, expectedID) {
			return false
		}
		meal.ID = meals[len(meals)-1].ID
		meal.UserID = ""
		meals[len(meals)-1] = meal
		replaced = true
		return true
	})
	return replaced, err
}

func (s *JSONFileStorage) DeleteLast(_ context.Context, userID, day string) (models.MealRecord, bool, error) {
	var removed models.MealRecord
	var ok bool
	err := s.update(func(doc document) bool {
		meals := doc[userID][day]
		if len(meals) == 0 {
			return false
		}
		removed, ok = meals[len(meals)-1], true
		doc[userID][day] = meals[:len(meals)-1]
		return true
	})
	if err != nil || !ok {
		return models.MealRecord{}, false, err
	}
	removed.UserID = userID
	return removed, ok, nil
}

func (s *JSONFileStorage) ClearDay(_ context.Context, userID, day string) (int, error) {
	var n int
	err := s.update(func(doc document) bool {
		n = len(doc[userID][day])
		if n == 0 {
			return false
		}
		// The user key stays; only the day's list is emptied.
		doc[userID][day] = []models.MealRecord{}
		return true
	})
	return n, err
}
