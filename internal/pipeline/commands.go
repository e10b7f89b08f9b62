// internal/pipeline/commands.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mcp-calorie-log/internal/ledger"
	"mcp-calorie-log/internal/models"
)

// The command handlers below return a user-facing reply. The error is
// non-nil only for storage or session failures, and the reply is then the
// generic failure message.

func (p *Pipeline) Start() string { return ReplyStart }

// Location is the zone whose midnight separates the ledger's days.
func (p *Pipeline) Location() *time.Location { return p.ledger.Location() }

func (p *Pipeline) Today(ctx context.Context, userID string) (string, error) {
	totals, err := p.ledger.Totals(ctx, userID, models.WindowToday)
	if err != nil {
		return ReplyFailure, err
	}
	return todayReply(totals), nil
}

func (p *Pipeline) Week(ctx context.Context, userID string) (string, error) {
	totals, err := p.ledger.Totals(ctx, userID, models.WindowWeek)
	if err != nil {
		return ReplyFailure, err
	}
	return weekReply(totals), nil
}

func (p *Pipeline) DeleteLast(ctx context.Context, userID string) (string, error) {
	removed, err := p.ledger.DeleteLast(ctx, userID)
	if errors.Is(err, ledger.ErrEmptyLedger) {
		return ReplyNothingToUndo, nil
	}
	if err != nil {
		return ReplyFailure, err
	}
	return "🗑 Удалил: " + mealLine(removed), nil
}

// ArmFix arms the fix latch so the user's next text message corrects
// today's last meal.
func (p *Pipeline) ArmFix(ctx context.Context, userID string) (string, error) {
	last, err := p.ledger.Last(ctx, userID)
	if errors.Is(err, ledger.ErrEmptyLedger) {
		return ReplyNothingToFix, nil
	}
	if err != nil {
		return ReplyFailure, err
	}
	if err := p.sessions.ArmFix(ctx, userID); err != nil {
		return ReplyFailure, fmt.Errorf("failed to arm fix: %w", err)
	}
	return fmt.Sprintf("✏️ Напиши, что исправить в записи «%s».", mealLine(last)), nil
}

// ResetDay clears the given day, today when day is zero.
func (p *Pipeline) ResetDay(ctx context.Context, userID string, day time.Time) (string, error) {
	if day.IsZero() {
		day = p.ledger.Now()
	}
	n, err := p.ledger.ResetDay(ctx, userID, day)
	if err != nil {
		return ReplyFailure, err
	}
	label := p.ledger.Day(day)
	if n == 0 {
		return fmt.Sprintf("Сбрасывать нечего — за %s ничего не записано.", label), nil
	}
	return fmt.Sprintf("🧹 Сбросил записи за %s: %d шт.", label, n), nil
}

func (p *Pipeline) Pause(ctx context.Context, userID string) (string, error) {
	if err := p.sessions.SetPaused(ctx, userID, true); err != nil {
		return ReplyFailure, fmt.Errorf("failed to pause: %w", err)
	}
	return ReplyPausedOK, nil
}

func (p *Pipeline) Resume(ctx context.Context, userID string) (string, error) {
	if err := p.sessions.SetPaused(ctx, userID, false); err != nil {
		return ReplyFailure, fmt.Errorf("failed to resume: %w", err)
	}
	return ReplyResumed, nil
}
