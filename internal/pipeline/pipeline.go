// internal/pipeline/pipeline.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mcp-calorie-log/internal/classify"
	"mcp-calorie-log/internal/comment"
	"mcp-calorie-log/internal/estimate"
	"mcp-calorie-log/internal/extract"
	"mcp-calorie-log/internal/ledger"
	"mcp-calorie-log/internal/models"
	"mcp-calorie-log/internal/session"
)

// State is a step of the meal pipeline.
type State string

const (
	StateReceived    State = "received"
	StateEstimating  State = "estimating"
	StateExtracting  State = "extracting"
	StateRecording   State = "recording"
	StateClassifying State = "classifying"
	StateResponding  State = "responding"
	StateDone        State = "done"
	// StateDeferred ends a run whose estimate was unavailable. Nothing is recorded.
	StateDeferred State = "deferred"
	// StateRejected ends a run that never reached estimation.
	StateRejected State = "rejected"
	StateFailed   State = "failed"
)

type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Event is one inbound meal message.
type Event struct {
	UserID string
	// UserName is the sender's handle on the chat surface, if any.
	UserName  string
	Kind      Kind
	Text      string
	Image     []byte
	Timestamp time.Time
}

type Result struct {
	State  State
	Reply  string
	Record *models.MealRecord
	// Special is the classifier verdict for the recorded meal.
	Special bool
	Fixed   bool
}

const DefaultEstimateTimeout = 60 * time.Second

type Option func(*Pipeline)

func WithMode(mode extract.Mode) Option {
	return func(p *Pipeline) { p.mode = mode }
}

func WithEstimateTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithRand injects the source used to pick reply phrases.
func WithRand(rng *rand.Rand) Option {
	return func(p *Pipeline) { p.rng = rng }
}

func WithPools(pools comment.Pools) Option {
	return func(p *Pipeline) { p.pools = pools }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(p *Pipeline) { p.log = log }
}

// WithDisplayNames sets the names used to address users in meal replies,
// keyed by lower-cased handle or by user id.
func WithDisplayNames(names map[string]string) Option {
	return func(p *Pipeline) {
		p.names = make(map[string]string, len(names))
		for k, v := range names {
			p.names[strings.ToLower(k)] = v
		}
	}
}

type Pipeline struct {
	estimator  estimate.Estimator
	ledger     *ledger.Ledger
	sessions   session.Store
	classifier *classify.Classifier
	pools      comment.Pools
	mode       extract.Mode
	timeout    time.Duration
	names      map[string]string
	log        logrus.FieldLogger

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(est estimate.Estimator, l *ledger.Ledger, sessions session.Store, cls *classify.Classifier, opts ...Option) *Pipeline {
	p := &Pipeline{
		estimator:  est,
		ledger:     l,
		sessions:   sessions,
		classifier: cls,
		pools:      comment.DefaultPools,
		mode:       extract.ModeText,
		timeout:    DefaultEstimateTimeout,
		log:        logrus.StandardLogger(),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) step(userID string, state State) {
	p.log.WithFields(logrus.Fields{"user_id": userID, "state": state}).Debug("meal pipeline")
}

// HandleMeal runs one inbound message through the pipeline. A text message
// arriving while the fix latch is armed is handled as the fix.
func (p *Pipeline) HandleMeal(ctx context.Context, ev Event) (Result, error) {
	p.step(ev.UserID, StateReceived)

	text := strings.TrimSpace(ev.Text)
	if len(ev.Image) == 0 {
		if text == "" {
			return Result{State: StateRejected, Reply: ReplyEmptyInput}, nil
		}
		armed, err := p.sessions.ConsumeFix(ctx, ev.UserID)
		if err != nil {
			return p.fail(ev.UserID, fmt.Errorf("failed to read session: %w", err))
		}
		if armed {
			return p.handleFix(ctx, ev.UserID, p.displayName(ev), text)
		}
	}

	st, err := p.sessions.Get(ctx, ev.UserID)
	if err != nil {
		return p.fail(ev.UserID, fmt.Errorf("failed to read session: %w", err))
	}
	if st.Paused {
		return Result{State: StateRejected, Reply: ReplyPaused}, nil
	}

	answer, ok := p.estimate(ctx, ev.UserID, estimate.MealPrompt(text, p.mode), ev.Image)
	if !ok {
		return Result{State: StateDeferred, Reply: ReplyTryLater}, nil
	}

	calories := p.extract(ev.UserID, answer)

	description := text
	if description == "" {
		description = extract.Dish(p.mode, answer)
	}
	if description == "" {
		description = answer
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = p.ledger.Now()
	}

	p.step(ev.UserID, StateRecording)
	rec := models.MealRecord{
		UserID:      ev.UserID,
		Timestamp:   ts,
		Description: description,
		Calories:    calories,
		RawReport:   answer,
	}
	id, err := p.ledger.Add(ctx, rec)
	if err != nil {
		return p.fail(ev.UserID, err)
	}
	rec.ID = id

	res := p.respond(rec, text+"\n"+answer, displayReport(p.mode, answer), false)
	if header := mealHeader(p.displayName(ev), false); header != "" {
		res.Reply = header + "\n\n" + res.Reply
	}
	return res, nil
}

// displayName resolves how to address the sender: a configured name for the
// handle or user id, else the handle itself, else nothing.
func (p *Pipeline) displayName(ev Event) string {
	handle := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ev.UserName), "@"))
	if name, ok := p.names[handle]; ok && handle != "" {
		return name
	}
	if name, ok := p.names[strings.ToLower(ev.UserID)]; ok {
		return name
	}
	return handle
}

// HandleFix re-estimates today's last meal from its report and the user's
// correction, then replaces it. If another meal was logged meanwhile the fix
// is dropped.
func (p *Pipeline) HandleFix(ctx context.Context, userID, correction string) (Result, error) {
	return p.handleFix(ctx, userID, "", correction)
}

func (p *Pipeline) handleFix(ctx context.Context, userID, name, correction string) (Result, error) {
	last, err := p.ledger.Last(ctx, userID)
	if errors.Is(err, ledger.ErrEmptyLedger) {
		return Result{State: StateRejected, Reply: ReplyNothingToFix}, nil
	}
	if err != nil {
		return p.fail(userID, err)
	}

	previous := last.RawReport
	if previous == "" {
		previous = last.Description + "\n" + extract.RenderTotalLine(last.Calories)
	}

	answer, ok := p.estimate(ctx, userID, estimate.FixPrompt(previous, correction, p.mode), nil)
	if !ok {
		return Result{State: StateDeferred, Reply: ReplyTryLater}, nil
	}

	calories := p.extract(userID, answer)

	description := extract.Dish(p.mode, answer)
	if description == "" {
		description = last.Description
	}

	p.step(userID, StateRecording)
	rec, err := p.ledger.ReplaceLast(ctx, userID, last.ID, models.MealRecord{
		Timestamp:   last.Timestamp,
		Description: description,
		Calories:    calories,
		RawReport:   answer,
	})
	if errors.Is(err, ledger.ErrEmptyLedger) {
		return Result{State: StateRejected, Reply: ReplyNothingToFix}, nil
	}
	if errors.Is(err, ledger.ErrTailChanged) {
		p.log.WithFields(logrus.Fields{"user_id": userID, "meal_id": last.ID}).Warn("fix dropped, last meal changed")
		return Result{State: StateRejected, Reply: ReplyFixStale}, nil
	}
	if err != nil {
		return p.fail(userID, err)
	}

	res := p.respond(rec, correction+"\n"+answer, displayReport(p.mode, answer), true)
	res.Reply = mealHeader(name, true) + "\n\n" + res.Reply
	return res, nil
}

// estimate calls the model with a bounded wait. ok is false when the run
// must be deferred.
func (p *Pipeline) estimate(ctx context.Context, userID, prompt string, image []byte) (string, bool) {
	p.step(userID, StateEstimating)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	answer, err := p.estimator.Estimate(ctx, prompt, image)
	if err == nil {
		return answer, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", estimate.ErrTimeout, err)
	}

	entry := p.log.WithFields(logrus.Fields{"user_id": userID, "state": StateDeferred}).WithError(err)
	if estimate.IsUnavailable(err) {
		entry.Warn("estimation unavailable")
	} else {
		entry.Error("estimation failed")
	}
	return "", false
}

func (p *Pipeline) extract(userID, answer string) int {
	p.step(userID, StateExtracting)

	calories, err := extract.Extract(p.mode, answer)
	if err != nil {
		p.log.WithFields(logrus.Fields{
			"user_id": userID,
			"mode":    p.mode,
			"answer":  answer,
		}).WithError(err).Warn("could not extract calories, recording 0")
		return 0
	}
	return calories
}

func (p *Pipeline) respond(rec models.MealRecord, classifyText, report string, fixed bool) Result {
	p.step(rec.UserID, StateClassifying)
	special := p.classifier.IsSpecial(classifyText, rec.Calories)

	p.step(rec.UserID, StateResponding)
	bucket := comment.Bucket(rec.Timestamp.In(p.ledger.Location()))
	p.rngMu.Lock()
	phrase := comment.Select(p.rng, p.pools, special, bucket)
	p.rngMu.Unlock()

	p.log.WithFields(logrus.Fields{
		"user_id":  rec.UserID,
		"meal_id":  rec.ID,
		"calories": rec.Calories,
		"special":  special,
		"fixed":    fixed,
	}).Info("meal logged")

	return Result{
		State:   StateDone,
		Reply:   composeMealReply(report, rec.Calories, phrase),
		Record:  &rec,
		Special: special,
		Fixed:   fixed,
	}
}

func (p *Pipeline) fail(userID string, err error) (Result, error) {
	p.log.WithFields(logrus.Fields{"user_id": userID, "state": StateFailed}).WithError(err).Error("meal pipeline failed")
	return Result{State: StateFailed, Reply: ReplyFailure}, err
}
