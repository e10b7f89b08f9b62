// internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"mcp-calorie-log/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; SQLite locks the whole file anyway.
	db.SetMaxOpenConns(1)

	storage := &SQLiteStorage{db: db}
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS meals (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT NOT NULL UNIQUE,
        user_id TEXT NOT NULL,
        day TEXT NOT NULL,
        timestamp TEXT NOT NULL,
        description TEXT NOT NULL,
        calories INTEGER NOT NULL CHECK (calories >= 0),
        raw_report TEXT NOT NULL DEFAULT ''
    );

    CREATE INDEX IF NOT EXISTS idx_meals_user_day ON meals(user_id, day, seq);
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

func (s *SQLiteStorage) Append(ctx context.Context, day string, meal models.MealRecord) error {
	query := `
        INSERT INTO meals (id, user_id, day, timestamp, description, calories, raw_report)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `
	_, err := s.db.ExecContext(ctx, query,
		meal.ID, meal.UserID, day, meal.Timestamp.Format(time.RFC3339Nano),
		meal.Description, meal.Calories, meal.RawReport)
	if err != nil {
		return fmt.Errorf("failed to insert meal: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) List(ctx context.Context, userID, day string) ([]models.MealRecord, error) {
	query := `
        SELECT id, user_id, timestamp, description, calories, raw_report
        FROM meals
        WHERE user_id = ? AND day = ?
        ORDER BY seq
    `

	rows, err := s.db.QueryContext(ctx, query, userID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query meals: %w", err)
	}
	defer rows.Close()

	var meals []models.MealRecord
	for rows.Next() {
		meal, err := scanMeal(rows)
		if err != nil {
			return nil, err
		}
		meals = append(meals, meal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate meals: %w", err)
	}

	return meals, nil
}

// ReplaceLast overwrites the day's last meal when its id is expectedID, or
// unconditionally when expectedID is empty.
func (s *SQLiteStorage) ReplaceLast(ctx context.Context, userID, day, expectedID string, meal models.MealRecord) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	seq, id, ok, err := lastSeq(ctx, tx, userID, day)
	if err != nil || !ok {
		return false, err
	}
	if !tailMatches(id, expectedID) {
		return false, nil
	}

	query := `
        UPDATE meals
        SET timestamp = ?, description = ?, calories = ?, raw_report = ?
        WHERE seq = ?
    `
	_, err = tx.ExecContext(ctx, query,
		meal.Timestamp.Format(time.RFC3339Nano), meal.Description,
		meal.Calories, meal.RawReport, seq)
	if err != nil {
		return false, fmt.Errorf("failed to update meal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

func (s *SQLiteStorage) DeleteLast(ctx context.Context, userID, day string) (models.MealRecord, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.MealRecord{}, false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
        SELECT seq, id, user_id, timestamp, description, calories, raw_report
        FROM meals
        WHERE user_id = ? AND day = ?
        ORDER BY seq DESC
        LIMIT 1
    `
	var seq int64
	var meal models.MealRecord
	var timestampStr string
	err = tx.QueryRowContext(ctx, query, userID, day).Scan(
		&seq, &meal.ID, &meal.UserID, &timestampStr,
		&meal.Description, &meal.Calories, &meal.RawReport)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MealRecord{}, false, nil
	}
	if err != nil {
		return models.MealRecord{}, false, fmt.Errorf("failed to query last meal: %w", err)
	}
	if meal.Timestamp, err = time.Parse(time.RFC3339Nano, timestampStr); err != nil {
		return models.MealRecord{}, false, fmt.Errorf("failed to parse timestamp: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM meals WHERE seq = ?`, seq); err != nil {
		return models.MealRecord{}, false, fmt.Errorf("failed to delete meal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.MealRecord{}, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return meal, true, nil
}

func (s *SQLiteStorage) ClearDay(ctx context.Context, userID, day string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM meals WHERE user_id = ? AND day = ?`, userID, day)
	if err != nil {
		return 0, fmt.Errorf("failed to clear day: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared meals: %w", err)
	}
	return int(n), nil
}

func lastSeq(ctx context.Context, tx *sql.Tx, userID, day string) (int64, string, bool, error) {
	var seq int64
	var id string
	err := tx.QueryRowContext(ctx,
		`SELECT seq, id FROM meals WHERE user_id = ? AND day = ? ORDER BY seq DESC LIMIT 1`,
		userID, day).Scan(&seq, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, fmt.Errorf("failed to query last meal: %w", err)
	}
	return seq, id, true, nil
}

// tailMatches reports whether the last meal id satisfies expectedID.
func tailMatches(id, expectedID string) bool {
	return expectedID == "" || id == expectedID
}

func scanMeal(rows *sql.Rows) (models.MealRecord, error) {
	var meal models.MealRecord
	var timestampStr string

	err := rows.Scan(
		&meal.ID, &meal.UserID, &timestampStr,
		&meal.Description, &meal.Calories, &meal.RawReport)
	if err != nil {
		return models.MealRecord{}, fmt.Errorf("failed to scan meal: %w", err)
	}

	if meal.Timestamp, err = time.Parse(time.RFC3339Nano, timestampStr); err != nil {
		return models.MealRecord{}, fmt.Errorf("failed to parse timestamp: %w", err)
	}
	return meal, nil
}
