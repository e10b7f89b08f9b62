// internal/pipeline/replies.go
package pipeline

import (
	"fmt"
	"strings"

	"mcp-calorie-log/internal/extract"
	"mcp-calorie-log/internal/models"
)

const (
	ReplyTryLater      = "⏳ Лимит запросов. Попробуй позже."
	ReplyFailure       = "⚠️ Что-то пошло не так, запись не сохранена. Попробуй ещё раз."
	ReplyEmptyInput    = "Пришли фото еды 📸 или опиши, что съел."
	ReplyPaused        = "⏸ Запись на паузе. Команда /resume — продолжить."
	ReplyPausedOK      = "⏸ Поставил запись на паузу. Команда /resume — продолжить."
	ReplyResumed       = "▶️ Снова записываю. Присылай фото еды 📸"
	ReplyNothingToFix  = "Нечего исправлять — сегодня пока ничего не записано."
	ReplyNothingToUndo = "Нечего удалять — сегодня пока ничего не записано."
	ReplyNothingToday  = "Сегодня пока ничего не записано."
	ReplyFixStale      = "Пока я пересчитывал, появилась новая запись. Исправление не сохранено, повтори /fix."
	ReplyStart         = "Пришли фото еды 🍽️ или опиши её текстом.\n" +
		"Я оценю калории и запишу.\n\n" +
		"/today — сколько съел сегодня\n" +
		"/week — итоги за 7 дней\n" +
		"/undo — удалить последнюю запись\n" +
		"/fix — исправить последнюю запись\n" +
		"/reset — очистить сегодняшний день\n" +
		"/pause, /resume — пауза и продолжение записи"
)

func mealLine(m models.MealRecord) string {
	desc := m.Description
	if desc == "" {
		desc = "без описания"
	}
	return fmt.Sprintf("%s — %d ккал", desc, m.Calories)
}

// displayReport renders the model answer for the user. JSON answers are
// rendered as lines so the user never sees raw documents.
func displayReport(mode extract.Mode, answer string) string {
	if mode != extract.ModeJSON {
		return strings.TrimSpace(answer)
	}
	report, err := extract.DecodeReport(answer)
	if err != nil {
		return strings.TrimSpace(answer)
	}

	var b strings.Builder
	if report.Dish != "" {
		fmt.Fprintf(&b, "Блюдо: %s\n", report.Dish)
	}
	for _, item := range report.Items {
		fmt.Fprintf(&b, "• %s — %.0f г — %d ккал\n", item.Name, item.WeightG, item.Kcal)
	}
	return strings.TrimSpace(b.String())
}

// mealHeader is the first line of a meal reply. It is empty for a new meal
// from an unnamed user.
func mealHeader(name string, fixed bool) string {
	switch {
	case fixed && name != "":
		return fmt.Sprintf("✏️ %s, исправил последнюю запись:", name)
	case fixed:
		return "✏️ Исправил последнюю запись:"
	case name != "":
		return name + ", записал:"
	default:
		return ""
	}
}

func composeMealReply(report string, calories int, phrase string) string {
	var b strings.Builder
	if report != "" {
		b.WriteString(report)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Итого: %d ккал\n%s", calories, phrase)
	return b.String()
}

func todayReply(totals models.Totals) string {
	if len(totals.Records) == 0 {
		return ReplyNothingToday
	}
	lines := make([]string, 0, len(totals.Records))
	for _, m := range totals.Records {
		lines = append(lines, "• "+mealLine(m))
	}
	return "Сегодня ты съел:\n\n" + strings.Join(lines, "\n") +
		fmt.Sprintf("\n\nИтого: %d ккал", totals.Sum)
}

func weekReply(totals models.Totals) string {
	var b strings.Builder
	b.WriteString("За последние 7 дней:\n\n")
	for _, d := range totals.Days {
		day := d.Day
		if len(day) == len(models.DayLayout) {
			// YYYY-MM-DD -> DD.MM
			day = day[8:10] + "." + day[5:7]
		}
		fmt.Fprintf(&b, "%s — %d ккал\n", day, d.Calories)
	}
	fmt.Fprintf(&b, "\nИтого: %d ккал\nВ среднем: %d ккал в день", totals.Sum, totals.Average)
	return b.String()
}
