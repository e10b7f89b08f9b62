// internal/ledger/ledger.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/sirupsen/logrus"

	"mcp-calorie-log/internal/models"
)

var ErrEmptyLedger = errors.New("no meals recorded today")

// ErrTailChanged means the last meal is no longer the one a replacement
// was computed for.
var ErrTailChanged = errors.New("last meal changed")

// StorageError marks a persistence failure. Previously committed meals are
// left as they were.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store persists meals bucketed by user and calendar day.
type Store interface {
	Append(ctx context.Context, day string, meal models.MealRecord) error
	List(ctx context.Context, userID, day string) ([]models.MealRecord, error)
	ReplaceLast(ctx context.Context, userID, day, expectedID string, meal models.MealRecord) (bool, error)
	DeleteLast(ctx context.Context, userID, day string) (models.MealRecord, bool, error)
	ClearDay(ctx context.Context, userID, day string) (int, error)
}

type Option func(*Ledger)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLocation sets the time zone whose midnight separates days.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Ledger) { l.log = log }
}

// Ledger is the per-user, per-day meal journal. Mutations for one user are
// serialized; different users proceed independently.
type Ledger struct {
	store Store
	locks cmap.ConcurrentMap[string, *sync.Mutex]
	now   func() time.Time
	loc   *time.Location
	log   logrus.FieldLogger
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		locks: cmap.New[*sync.Mutex](),
		now:   time.Now,
		loc:   time.Local,
		log:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Location returns the zone used for day bucketing.
func (l *Ledger) Location() *time.Location { return l.loc }

// Now returns the ledger clock's current time in its location.
func (l *Ledger) Now() time.Time { return l.now().In(l.loc) }

// Day returns the bucket key for t.
func (l *Ledger) Day(t time.Time) string { return t.In(l.loc).Format(models.DayLayout) }

func (l *Ledger) lock(userID string) func() {
	mu := l.locks.Upsert(userID, nil, func(exist bool, current, _ *sync.Mutex) *sync.Mutex {
		if exist {
			return current
		}
		return &sync.Mutex{}
	})
	mu.Lock()
	return mu.Unlock
}

// Add appends meal to its user's day and returns the record id.
func (l *Ledger) Add(ctx context.Context, meal models.MealRecord) (string, error) {
	if strings.TrimSpace(meal.UserID) == "" {
		return "", fmt.Errorf("user id is required")
	}
	meal = l.prepare(meal)

	unlock := l.lock(meal.UserID)
	defer unlock()

	if err := l.store.Append(ctx, l.Day(meal.Timestamp), meal); err != nil {
		return "", &StorageError{Op: "add", Err: err}
	}
	l.log.WithFields(logrus.Fields{
		"user_id":  meal.UserID,
		"meal_id":  meal.ID,
		"calories": meal.Calories,
	}).Debug("meal recorded")
	return meal.ID, nil
}

// Last returns today's most recent meal.
func (l *Ledger) Last(ctx context.Context, userID string) (models.MealRecord, error) {
	meals, err := l.store.List(ctx, userID, l.Day(l.now()))
	if err != nil {
		return models.MealRecord{}, &StorageError{Op: "list", Err: err}
	}
	if len(meals) == 0 {
		return models.MealRecord{}, ErrEmptyLedger
	}
	return meals[len(meals)-1], nil
}

// ReplaceLast overwrites today's most recent meal in place. The replaced
// record keeps its id and position. A non-empty expectedID must be the id
// of that meal, otherwise nothing changes and ErrTailChanged is returned.
func (l *Ledger) ReplaceLast(ctx context.Context, userID, expectedID string, meal models.MealRecord) (models.MealRecord, error) {
	meal.UserID = userID
	meal = l.prepare(meal)
	day := l.Day(l.now())

	unlock := l.lock(userID)
	defer unlock()

	meals, err := l.store.List(ctx, userID, day)
	if err != nil {
		return models.MealRecord{}, &StorageError{Op: "list", Err: err}
	}
	if len(meals) == 0 {
		return models.MealRecord{}, ErrEmptyLedger
	}
	if expectedID != "" && meals[len(meals)-1].ID != expectedID {
		return models.MealRecord{}, ErrTailChanged
	}

	ok, err := l.store.ReplaceLast(ctx, userID, day, expectedID, meal)
	if err != nil {
		return models.MealRecord{}, &StorageError{Op: "replace", Err: err}
	}
	if !ok {
		return models.MealRecord{}, ErrTailChanged
	}

	meals, err = l.store.List(ctx, userID, day)
	if err != nil {
		return models.MealRecord{}, &StorageError{Op: "list", Err: err}
	}
	if len(meals) == 0 {
		return models.MealRecord{}, ErrEmptyLedger
	}
	return meals[len(meals)-1], nil
}

// DeleteLast removes today's most recent meal and returns it.
func (l *Ledger) DeleteLast(ctx context.Context, userID string) (models.MealRecord, error) {
	unlock := l.lock(userID)
	defer unlock()

	removed, ok, err := l.store.DeleteLast(ctx, userID, l.Day(l.now()))
	if err != nil {
		return models.MealRecord{}, &StorageError{Op: "delete", Err: err}
	}
	if !ok {
		return models.MealRecord{}, ErrEmptyLedger
	}
	return removed, nil
}

// ResetDay clears every meal of day and reports how many were removed.
// Zero means there was nothing to reset.
func (l *Ledger) ResetDay(ctx context.Context, userID string, day time.Time) (int, error) {
	unlock := l.lock(userID)
	defer unlock()

	n, err := l.store.ClearDay(ctx, userID, l.Day(day))
	if err != nil {
		return 0, &StorageError{Op: "reset", Err: err}
	}
	return n, nil
}

// Totals sums calories over window. The week average always divides by
// seven, so days without meals count as zero.
func (l *Ledger) Totals(ctx context.Context, userID string, window models.Window) (models.Totals, error) {
	span := 1
	switch window {
	case models.WindowToday:
	case models.WindowWeek:
		span = models.WeekDays
	default:
		return models.Totals{}, fmt.Errorf("unknown window %q", window)
	}

	today := l.Now()
	totals := models.Totals{Window: window}
	for i := span - 1; i >= 0; i-- {
		day := l.Day(today.AddDate(0, 0, -i))
		meals, err := l.store.List(ctx, userID, day)
		if err != nil {
			return models.Totals{}, &StorageError{Op: "list", Err: err}
		}

		dt := models.DayTotal{Day: day, Records: meals}
		for _, m := range meals {
			dt.Calories += m.Calories
		}
		totals.Days = append(totals.Days, dt)
		totals.Sum += dt.Calories
		totals.Records = append(totals.Records, meals...)
	}
	totals.Average = totals.Sum / span
	return totals, nil
}

func (l *Ledger) prepare(meal models.MealRecord) models.MealRecord {
	if meal.ID == "" {
		meal.ID = uuid.NewString()
	}
	if meal.Timestamp.IsZero() {
		meal.Timestamp = l.now()
	}
	if meal.Calories < 0 {
		meal.Calories = 0
	}
	return meal
}
