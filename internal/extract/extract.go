// internal/extract/extract.go
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"mcp-calorie-log/internal/models"
)

// Mode selects how a model answer is parsed.
type Mode string

const (
	// ModeText expects a labeled-lines report ending in a total line.
	ModeText Mode = "text"
	// ModeJSON expects an {"items": [...], "total_kcal": N} document.
	ModeJSON Mode = "json"
)

// TotalLabel is the label of the canonical total line.
const TotalLabel = "Итого калорий (ккал):"

var ErrMalformedAnswer = errors.New("malformed answer")

// MaxSummedCalories bounds the degraded sum of per-item amounts. A larger
// sum is treated as malformed.
const MaxSummedCalories = 100000

var (
	digitRun    = regexp.MustCompile(`\d+`)
	unitAmount  = regexp.MustCompile(`(?i)(\d+)\s*(?:ккал|kcal)`)
	totalLabels = []string{"итого", "total"}
	unitTokens  = []string{"ккал", "kcal"}
	dishLabels  = []string{"блюдо:", "dish:"}
)

// ParseMode maps a config value to a Mode, defaulting to ModeText.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeJSON)) {
		return ModeJSON
	}
	return ModeText
}

// RenderTotalLine renders the canonical total line for c.
func RenderTotalLine(c int) string {
	return fmt.Sprintf("%s %d", TotalLabel, c)
}

// Extract returns the total calories found in answer.
func Extract(mode Mode, answer string) (int, error) {
	if mode == ModeJSON {
		return fromJSON(answer)
	}
	return fromText(answer)
}

// Calories is Extract with failures degraded to zero.
func Calories(mode Mode, answer string) int {
	c, err := Extract(mode, answer)
	if err != nil {
		return 0
	}
	return c
}

func fromText(answer string) (int, error) {
	lines := strings.Split(answer, "\n")

	for _, line := range lines {
		rest, ok := afterTotalLabel(line)
		if !ok {
			continue
		}
		m := digitRun.FindString(rest)
		if m == "" {
			continue
		}
		return parseAmount(m)
	}

	// Degraded: sum amounts attached to unit tokens. May double count sub-items.
	sum, found := 0, false
	for _, line := range lines {
		if !containsAny(strings.ToLower(line), unitTokens) {
			continue
		}
		for _, m := range unitAmount.FindAllStringSubmatch(line, -1) {
			n, err := parseAmount(m[1])
			if err != nil {
				return 0, err
			}
			if n > MaxSummedCalories-sum {
				return 0, fmt.Errorf("%w: kcal amounts sum past %d", ErrMalformedAnswer, MaxSummedCalories)
			}
			sum += n
			found = true
		}
	}
	if !found {
		return 0, fmt.Errorf("%w: no total line and no kcal amounts", ErrMalformedAnswer)
	}
	return sum, nil
}

func parseAmount(digits string) (int, error) {
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedAnswer, err)
	}
	return n, nil
}

func afterTotalLabel(line string) (string, bool) {
	trimmed := strings.TrimLeft(strings.TrimSpace(line), "*-•#> ")
	lower := strings.ToLower(trimmed)
	for _, label := range totalLabels {
		if strings.HasPrefix(lower, label) {
			// Lower-casing keeps byte offsets for Cyrillic and ASCII alike.
			return trimmed[len(label):], true
		}
	}
	return "", false
}

// DecodeReport strictly decodes the JSON document embedded in answer.
func DecodeReport(answer string) (*models.EstimateReport, error) {
	start := strings.Index(answer, "{")
	end := strings.LastIndex(answer, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("%w: no JSON document", ErrMalformedAnswer)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(answer[start : end+1])))
	dec.DisallowUnknownFields()

	var report models.EstimateReport
	if err := dec.Decode(&report); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAnswer, err)
	}
	return &report, nil
}

func fromJSON(answer string) (int, error) {
	report, err := DecodeReport(answer)
	if err != nil {
		return 0, err
	}
	if report.TotalKcal == nil {
		return 0, fmt.Errorf("%w: total_kcal missing", ErrMalformedAnswer)
	}
	if *report.TotalKcal < 0 {
		return 0, fmt.Errorf("%w: negative total_kcal %d", ErrMalformedAnswer, *report.TotalKcal)
	}
	return *report.TotalKcal, nil
}

// Dish returns the dish name reported by the model, or "" if there is none.
func Dish(mode Mode, answer string) string {
	if mode == ModeJSON {
		report, err := DecodeReport(answer)
		if err != nil {
			return ""
		}
		return report.Dish
	}
	for _, line := range strings.Split(answer, "\n") {
		trimmed := strings.TrimLeft(strings.TrimSpace(line), "*-•#> ")
		lower := strings.ToLower(trimmed)
		for _, label := range dishLabels {
			if strings.HasPrefix(lower, label) {
				return strings.Trim(strings.TrimSpace(trimmed[len(label):]), "*")
			}
		}
	}
	return ""
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
