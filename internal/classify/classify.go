// internal/classify/classify.go
package classify

import "strings"

const (
	DefaultHighThreshold = 800
	DefaultMidThreshold  = 600
)

// Keyword terms match as case-insensitive substrings, so compounds such as
// "чизбургер" or "cupcake" hit. Words in DefaultExclusions are masked first
// because they contain a term without meaning it ("свинина" holds "вина").
var (
	DefaultIndulgent = []string{
		"пив", "beer", "вино", "вина", "вине", "wine", "алкогол", "alcohol",
		"водк", "vodka", "виски", "whisk", "коньяк", "коктейл", "cocktail",
		"шампанск", "сидр", "бургер", "burger", "пицц", "pizza", "картошка фри",
		"картофель фри", "fries", "шаурм", "шаверм", "макдоналдс", "mcdonald",
		"kfc", "fast food", "fast-food", "фастфуд", "наггетс", "nuggets",
	}
	DefaultSweet = []string{
		"торт", "cake", "пирожн", "десерт", "dessert", "шоколад", "chocolate",
		"мороженое", "ice cream", "печенье", "cookie", "конфет", "candy",
		"пончик", "donut", "чизкейк", "cheesecake", "вафл", "блин",
	}
	DefaultExclusions = []string{
		"свинин", "виноград", "swine", "тортиль",
	}
)

// Classifier decides whether a meal deserves the indulgent reply tone.
type Classifier struct {
	HighThreshold int
	MidThreshold  int
	Indulgent     []string
	Sweet         []string
	Exclusions    []string
}

func New(high, mid int) *Classifier {
	if high <= 0 {
		high = DefaultHighThreshold
	}
	if mid <= 0 {
		mid = DefaultMidThreshold
	}
	return &Classifier{
		HighThreshold: high,
		MidThreshold:  mid,
		Indulgent:     DefaultIndulgent,
		Sweet:         DefaultSweet,
		Exclusions:    DefaultExclusions,
	}
}

// IsSpecial applies, in order: calorie magnitude, indulgence keywords,
// sweet keywords gated by the mid threshold.
func (c *Classifier) IsSpecial(description string, calories int) bool {
	if calories > c.HighThreshold {
		return true
	}
	text := c.normalize(description)
	if containsAny(text, c.Indulgent) {
		return true
	}
	if calories >= c.MidThreshold && containsAny(text, c.Sweet) {
		return true
	}
	return false
}

// normalize lower-cases s and blanks out every exclusion word.
func (c *Classifier) normalize(s string) string {
	text := strings.ToLower(s)
	for _, ex := range c.Exclusions {
		text = strings.ReplaceAll(text, strings.ToLower(ex), " ")
	}
	return text
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, strings.ToLower(t)) {
			return true
		}
	}
	return false
}
