package ledger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcp-calorie-log/internal/models"
	"mcp-calorie-log/internal/storage"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

var moscow = time.FixedZone("MSK", 3*60*60)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	sqlite, err := storage.NewSQLiteStorage(filepath.Join(dir, "meals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	file, err := storage.NewJSONFileStorage(filepath.Join(dir, "data.json"))
	require.NoError(t, err)

	return map[string]Store{
		"sqlite": sqlite,
		"json":   file,
		"memory": storage.NewMemoryStorage(),
	}
}

func newLedger(store Store) (*Ledger, *clock) {
	c := &clock{t: time.Date(2026, 10, 17, 13, 0, 0, 0, moscow)}
	return New(store, WithClock(c.Now), WithLocation(moscow)), c
}

func TestAddThenDeleteLastIsExactInverse(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			l, _ := newLedger(store)

			_, err := l.Add(ctx, models.MealRecord{UserID: "u1", Description: "каша", Calories: 250})
			require.NoError(t, err)

			before, err := l.Totals(ctx, "u1", models.WindowToday)
			require.NoError(t, err)

			id, err := l.Add(ctx, models.MealRecord{UserID: "u1", Description: "пицца", Calories: 900})
			require.NoError(t, err)
			assert.NotEmpty(t, id)

			removed, err := l.DeleteLast(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, id, removed.ID)

			after, err := l.Totals(ctx, "u1", models.WindowToday)
			require.NoError(t, err)
			assert.Equal(t, before.Sum, after.Sum)
			require.Len(t, after.Records, len(before.Records))
			for i := range before.Records {
				assert.Equal(t, before.Records[i].ID, after.Records[i].ID)
				assert.Equal(t, before.Records[i].Calories, after.Records[i].Calories)
			}
		})
	}
}

func TestReplaceLastKeepsLengthAndPosition(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			l, _ := newLedger(store)

			_, err := l.Add(ctx, models.MealRecord{UserID: "u1", Description: "суп", Calories: 200})
			require.NoError(t, err)
			lastID, err := l.Add(ctx, models.MealRecord{UserID: "u1", Description: "2 сосиски и 5 яиц", Calories: 640})
			require.NoError(t, err)

			got, err := l.ReplaceLast(ctx, "u1", lastID, models.MealRecord{Description: "3 сосиски и 5 яиц", Calories: 730, RawReport: "Итого калорий (ккал): 730"})
			require.NoError(t, err)
			assert.Equal(t, lastID, got.ID)
			assert.Equal(t, 730, got.Calories)

			totals, err := l.Totals(ctx, "u1", models.WindowToday)
			require.NoError(t, err)
			require.Len(t, totals.Records, 2)
			assert.Equal(t, "суп", totals.Records[0].Description)
			assert.Equal(t, 930, totals.Sum)
		})
	}
}

func TestReplaceLastRefusesChangedTail(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			l, _ := newLedger(store)

			firstID, err := l.Add(ctx, models.MealRecord{UserID: "u1", Description: "2 сосиски", Calories: 640})
			require.NoError(t, err)
			_, err = l.Add(ctx, models.MealRecord{UserID: "u1", Description: "салат", Calories: 200})
			require.NoError(t, err)

			_, err = l.ReplaceLast(ctx, "u1", firstID, models.MealRecord{Description: "3 сосиски", Calories: 760})
			assert.ErrorIs(t, err, ErrTailChanged)

			totals, err := l.Totals(ctx, "u1", models.WindowToday)
			require.NoError(t, err)
			require.Len(t, totals.Records, 2)
			assert.Equal(t, 640, totals.Records[0].Calories)
			assert.Equal(t, "салат", totals.Records[1].Description)
			assert.Equal(t, 840, totals.Sum)
		})
	}
}

func TestEmptyLedgerOperations(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(storage.NewMemoryStorage())

	_, err := l.DeleteLast(ctx, "nobody")
	assert.ErrorIs(t, err, ErrEmptyLedger)

	_, err = l.ReplaceLast(ctx, "nobody", "", models.MealRecord{Calories: 10})
	assert.ErrorIs(t, err, ErrEmptyLedger)

	_, err = l.Last(ctx, "nobody")
	assert.ErrorIs(t, err, ErrEmptyLedger)

	n, err := l.ResetDay(ctx, "nobody", l.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	totals, err := l.Totals(ctx, "nobody", models.WindowToday)
	require.NoError(t, err)
	assert.Zero(t, totals.Sum)
	assert.Empty(t, totals.Records)
}

func TestFixAndDeleteOnlyTouchToday(t *testing.T) {
	ctx := context.Background()
	l, c := newLedger(storage.NewMemoryStorage())

	_, err := l.Add(ctx, models.MealRecord{UserID: "u1", Description: "ужин", Calories: 500})
	require.NoError(t, err)

	c.Set(c.Now().AddDate(0, 0, 1))
	_, err = l.DeleteLast(ctx, "u1")
	assert.ErrorIs(t, err, ErrEmptyLedger)

	week, err := l.Totals(ctx, "u1", models.WindowWeek)
	require.NoError(t, err)
	assert.Equal(t, 500, week.Sum)
}

func TestResetDay(t *testing.T) {
	ctx := context.Background()
	l, c := newLedger(storage.NewMemoryStorage())

	yesterday := c.Now().AddDate(0, 0, -1)
	_, err := l.Add(ctx, models.MealRecord{UserID: "u1", Calories: 100, Timestamp: yesterday})
	require.NoError(t, err)
	_, err = l.Add(ctx, models.MealRecord{UserID: "u1", Calories: 200})
	require.NoError(t, err)
	_, err = l.Add(ctx, models.MealRecord{UserID: "u1", Calories: 300})
	require.NoError(t, err)

	n, err := l.ResetDay(ctx, "u1", c.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	week, err := l.Totals(ctx, "u1", models.WindowWeek)
	require.NoError(t, err)
	assert.Equal(t, 100, week.Sum)
}

func TestWeekTotals(t *testing.T) {
	ctx := context.Background()
	l, c := newLedger(storage.NewMemoryStorage())
	now := c.Now()

	add := func(daysAgo, kcal int) {
		_, err := l.Add(ctx, models.MealRecord{UserID: "u1", Calories: kcal, Timestamp: now.AddDate(0, 0, -daysAgo)})
		require.NoError(t, err)
	}
	add(0, 500)
	add(0, 300)
	add(3, 1000)
	add(6, 203)
	add(7, 9999) // outside the window

	week, err := l.Totals(ctx, "u1", models.WindowWeek)
	require.NoError(t, err)
	assert.Equal(t, models.WindowWeek, week.Window)
	assert.Equal(t, 2003, week.Sum)
	assert.Equal(t, 2003/7, week.Average)
	require.Len(t, week.Days, 7)
	assert.Equal(t, "2026-10-11", week.Days[0].Day)
	assert.Equal(t, 203, week.Days[0].Calories)
	assert.Equal(t, "2026-10-17", week.Days[6].Day)
	assert.Equal(t, 800, week.Days[6].Calories)
	assert.Len(t, week.Records, 4)

	today, err := l.Totals(ctx, "u1", models.WindowToday)
	require.NoError(t, err)
	assert.Equal(t, 800, today.Sum)
	assert.Equal(t, 800, today.Average)
}

func TestWeekAverageAlwaysDividesBySeven(t *testing.T) {
	ctx := context.Background()
	for _, kcal := range []int{0, 6, 7, 640, 1999} {
		l, _ := newLedger(storage.NewMemoryStorage())
		if kcal > 0 {
			_, err := l.Add(ctx, models.MealRecord{UserID: "u1", Calories: kcal})
			require.NoError(t, err)
		}
		week, err := l.Totals(ctx, "u1", models.WindowWeek)
		require.NoError(t, err)
		assert.Equal(t, week.Sum/7, week.Average)
	}
}

func TestDayBoundaryUsesLedgerLocation(t *testing.T) {
	ctx := context.Background()
	l, c := newLedger(storage.NewMemoryStorage())

	// 23:30 UTC on the 16th is already the 17th in Moscow.
	late := time.Date(2026, 10, 16, 23, 30, 0, 0, time.UTC)
	_, err := l.Add(ctx, models.MealRecord{UserID: "u1", Calories: 150, Timestamp: late})
	require.NoError(t, err)

	c.Set(time.Date(2026, 10, 17, 9, 0, 0, 0, moscow))
	today, err := l.Totals(ctx, "u1", models.WindowToday)
	require.NoError(t, err)
	assert.Equal(t, 150, today.Sum)
}

func TestAddNormalizesRecord(t *testing.T) {
	ctx := context.Background()
	l, c := newLedger(storage.NewMemoryStorage())

	_, err := l.Add(ctx, models.MealRecord{UserID: "u1", Calories: -20})
	require.NoError(t, err)
	last, err := l.Last(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, last.Calories)
	assert.True(t, last.Timestamp.Equal(c.Now()))

	_, err = l.Add(ctx, models.MealRecord{Calories: 100})
	assert.Error(t, err)
}

func TestConcurrentMutationsSameUser(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(storage.NewMemoryStorage())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i%3)
			_, err := l.Add(ctx, models.MealRecord{UserID: user, Calories: 10})
			assert.NoError(t, err)
			_, _ = l.ReplaceLast(ctx, user, "", models.MealRecord{Calories: 10})
		}(i)
	}
	wg.Wait()

	sum := 0
	for i := 0; i < 3; i++ {
		totals, err := l.Totals(ctx, fmt.Sprintf("u%d", i), models.WindowToday)
		require.NoError(t, err)
		sum += totals.Sum
	}
	assert.Equal(t, 500, sum)
}

type failingStore struct{ Store }

var errDisk = errors.New("disk full")

func (failingStore) Append(context.Context, string, models.MealRecord) error { return errDisk }

func (failingStore) List(context.Context, string, string) ([]models.MealRecord, error) {
	return nil, errDisk
}

func TestStorageErrorsAreTyped(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(failingStore{})

	_, err := l.Add(ctx, models.MealRecord{UserID: "u1", Calories: 100})
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "add", serr.Op)
	assert.ErrorIs(t, err, errDisk)
	assert.NotErrorIs(t, err, ErrEmptyLedger)

	_, err = l.Totals(ctx, "u1", models.WindowWeek)
	assert.ErrorAs(t, err, &serr)
}

func TestUnknownWindow(t *testing.T) {
	l, _ := newLedger(storage.NewMemoryStorage())
	_, err := l.Totals(context.Background(), "u1", models.Window("month"))
	assert.Error(t, err)
}
