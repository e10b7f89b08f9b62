package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcp-calorie-log/internal/models"
)

type store interface {
	Append(ctx context.Context, day string, meal models.MealRecord) error
	List(ctx context.Context, userID, day string) ([]models.MealRecord, error)
	ReplaceLast(ctx context.Context, userID, day, expectedID string, meal models.MealRecord) (bool, error)
	DeleteLast(ctx context.Context, userID, day string) (models.MealRecord, bool, error)
	ClearDay(ctx context.Context, userID, day string) (int, error)
	Close() error
}

func backends(t *testing.T) map[string]store {
	t.Helper()
	dir := t.TempDir()

	sqlite, err := NewSQLiteStorage(filepath.Join(dir, "meals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	file, err := NewJSONFileStorage(filepath.Join(dir, "data.json"))
	require.NoError(t, err)

	return map[string]store{
		"sqlite": sqlite,
		"json":   file,
		"memory": NewMemoryStorage(),
	}
}

func meal(id, user, desc string, kcal int) models.MealRecord {
	return models.MealRecord{
		ID:          id,
		UserID:      user,
		Timestamp:   time.Date(2026, 10, 17, 13, 0, 0, 0, time.UTC),
		Description: desc,
		Calories:    kcal,
		RawReport:   "Итого калорий (ккал): " + desc,
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	const day = "2026-10-17"

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			meals, err := s.List(ctx, "u1", day)
			require.NoError(t, err)
			assert.Empty(t, meals)

			require.NoError(t, s.Append(ctx, day, meal("a", "u1", "омлет", 300)))
			require.NoError(t, s.Append(ctx, day, meal("b", "u1", "суп", 200)))
			require.NoError(t, s.Append(ctx, day, meal("c", "u2", "пицца", 900)))
			require.NoError(t, s.Append(ctx, "2026-10-16", meal("d", "u1", "каша", 250)))

			meals, err = s.List(ctx, "u1", day)
			require.NoError(t, err)
			require.Len(t, meals, 2)
			assert.Equal(t, "a", meals[0].ID)
			assert.Equal(t, "b", meals[1].ID)
			assert.Equal(t, "u1", meals[1].UserID)
			assert.True(t, meals[0].Timestamp.Equal(time.Date(2026, 10, 17, 13, 0, 0, 0, time.UTC)))

			ok, err := s.ReplaceLast(ctx, "u1", day, "a", meal("ignored", "u1", "stale", 1))
			require.NoError(t, err)
			assert.False(t, ok, "tail is b, not a")

			ok, err = s.ReplaceLast(ctx, "u1", day, "b", meal("ignored", "u1", "суп с хлебом", 320))
			require.NoError(t, err)
			assert.True(t, ok)

			meals, err = s.List(ctx, "u1", day)
			require.NoError(t, err)
			require.Len(t, meals, 2)
			assert.Equal(t, "b", meals[1].ID)
			assert.Equal(t, 320, meals[1].Calories)
			assert.Equal(t, "суп с хлебом", meals[1].Description)

			removed, ok, err := s.DeleteLast(ctx, "u1", day)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "b", removed.ID)

			n, err := s.ClearDay(ctx, "u1", day)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			n, err = s.ClearDay(ctx, "u1", day)
			require.NoError(t, err)
			assert.Equal(t, 0, n)

			_, ok, err = s.DeleteLast(ctx, "u1", day)
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = s.ReplaceLast(ctx, "u1", day, "", meal("x", "u1", "x", 1))
			require.NoError(t, err)
			assert.False(t, ok)

			other, err := s.List(ctx, "u2", day)
			require.NoError(t, err)
			assert.Len(t, other, 1)

			yesterday, err := s.List(ctx, "u1", "2026-10-16")
			require.NoError(t, err)
			assert.Len(t, yesterday, 1)
		})
	}
}

func TestJSONFileLayout(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "data.json")

	s, err := NewJSONFileStorage(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, "2026-10-17", meal("a", "42", "борщ", 350)))
	_, err = s.ClearDay(ctx, "42", "2026-10-17")
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, "2026-10-18", meal("b", "42", "каша", 200)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]map[string][]map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Contains(t, doc, "42")
	assert.Empty(t, doc["42"]["2026-10-17"])
	require.Len(t, doc["42"]["2026-10-18"], 1)
	entry := doc["42"]["2026-10-18"][0]
	assert.Equal(t, "каша", entry["description"])
	assert.EqualValues(t, 200, entry["calories"])
	assert.NotContains(t, entry, "user_id")

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestJSONFileCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewJSONFileStorage(path)
	assert.Error(t, err)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "meals.db")

	s, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, "2026-10-17", meal("a", "u1", "плов", 650)))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStorage(path)
	require.NoError(t, err)
	defer s.Close()

	meals, err := s.List(ctx, "u1", "2026-10-17")
	require.NoError(t, err)
	require.Len(t, meals, 1)
	assert.Equal(t, 650, meals[0].Calories)
	assert.Equal(t, "Итого калорий (ккал): плов", meals[0].RawReport)
}

func TestSQLiteRejectsNegativeCalories(t *testing.T) {
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "meals.db"))
	require.NoError(t, err)
	defer s.Close()

	err = s.Append(context.Background(), "2026-10-17", meal("a", "u1", "x", -1))
	assert.Error(t, err)
}
