// internal/storage/memory.go
package storage

import (
	"context"
	"sync"

	"mcp-calorie-log/internal/models"
)

// MemoryStorage keeps the ledger in process memory. Reads return copies.
type MemoryStorage struct {
	mu    sync.RWMutex
	meals map[string]map[string][]models.MealRecord
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{meals: map[string]map[string][]models.MealRecord{}}
}

func (s *MemoryStorage) Close() error { return nil }

func (s *MemoryStorage) Append(_ context.Context, day string, meal models.MealRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	days := s.meals[meal.UserID]
	if days == nil {
		days = map[string][]models.MealRecord{}
		s.meals[meal.UserID] = days
	}
	days[day] = append(days[day], meal)
	return nil
}

func (s *MemoryStorage) List(_ context.Context, userID, day string) ([]models.MealRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.MealRecord(nil), s.meals[userID][day]...), nil
}

func (s *MemoryStorage) ReplaceLast(_ context.Context, userID, day, expectedID string, meal models.MealRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meals := s.meals[userID][day]
	if len(meals) == 0 || !tailMatches(meals[len(meals)-1].ID, expectedID) {
		return false, nil
	}
	meal.ID = meals[len(meals)-1].ID
	meals[len(meals)-1] = meal
	return true, nil
}

func (s *MemoryStorage) DeleteLast(_ context.Context, userID, day string) (models.MealRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meals := s.meals[userID][day]
	if len(meals) == 0 {
		return models.MealRecord{}, false, nil
	}
	last := meals[len(meals)-1]
	s.meals[userID][day] = meals[:len(meals)-1:len(meals)-1]
	return last, true, nil
}

func (s *MemoryStorage) ClearDay(_ context.Context, userID, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.meals[userID][day])
	if n > 0 {
		s.meals[userID][day] = nil
	}
	return n, nil
}
