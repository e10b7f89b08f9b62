// internal/estimate/prompt.go
package estimate

import (
	"fmt"
	"strings"

	"mcp-calorie-log/internal/extract"
)

const expert = "Ты — эксперт по питанию.\n\n"

func answerFormat(mode extract.Mode) string {
	if mode == extract.ModeJSON {
		return `Ответ дай СТРОГО одним JSON-документом без пояснений:
{"dish": "название блюда", "items": [{"name": "ингредиент", "weight_g": 0, "kcal": 0}], "total_kcal": 0}`
	}
	return "Ответ дай СТРОГО в формате:\n" +
		"Блюдо: <название>\n" +
		"<ингредиент> — <вес> г — <ккал> ккал (по строке на ингредиент)\n" +
		extract.TotalLabel + " <одно целое число>"
}

// MealPrompt asks for an estimate of a new meal. The caption is the user's
// text; when present it is treated as fact.
func MealPrompt(caption string, mode extract.Mode) string {
	var b strings.Builder
	b.WriteString(expert)
	if strings.TrimSpace(caption) != "" {
		b.WriteString("Если пользователь указал блюдо текстом — считай это фактом.\n\n")
		fmt.Fprintf(&b, "Описание пользователя:\n\"\"\"%s\"\"\"\n\n", caption)
	}
	b.WriteString("Определи блюдо, оцени вес порции и посчитай ИТОГОВУЮ калорийность.\n\n")
	b.WriteString(answerFormat(mode))
	return b.String()
}

// FixPrompt asks for a corrected estimate of a previously reported meal.
func FixPrompt(previousReport, correction string, mode extract.Mode) string {
	var b strings.Builder
	b.WriteString(expert)
	fmt.Fprintf(&b, "Ранее ты оценил приём пищи так:\n\"\"\"%s\"\"\"\n\n", previousReport)
	fmt.Fprintf(&b, "Пользователь уточняет:\n\"\"\"%s\"\"\"\n\n", correction)
	b.WriteString("Пересчитай оценку с учётом уточнения.\n\n")
	b.WriteString(answerFormat(mode))
	return b.String()
}
