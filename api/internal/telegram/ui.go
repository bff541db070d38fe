package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"grader-bot/api/internal/gateway"
)

// The answer labels a test item can take. This closed set is a display
// concern: the workflow core accepts any value the keyboard produces.
var answerLabels = []string{"TRUE", "FALSE", "Don't Know"}

func makeExtractKeyboard() tgbotapi.InlineKeyboardMarkup {
	btn := tgbotapi.NewInlineKeyboardButtonData("Extract answers", "extract")
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(btn))
}

// makeAnswerKeyboard offers the closed label set for one question. Labels are
// sent by index to stay inside Telegram's callback-data limit.
func makeAnswerKeyboard(key string) tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(answerLabels))
	for i, label := range answerLabels {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("set:%s:%d", key, i)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

func makeReviewKeyboard(keys []string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	row := make([]tgbotapi.InlineKeyboardButton, 0, 5)
	for _, k := range keys {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(k, "edit:"+k))
		if len(row) == 5 {
			rows = append(rows, row)
			row = make([]tgbotapi.InlineKeyboardButton, 0, 5)
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Submit for grading", "submit"),
		tgbotapi.NewInlineKeyboardButtonData("Start over", "reset"),
	))
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func makeResultKeyboard() tgbotapi.InlineKeyboardMarkup {
	btn := tgbotapi.NewInlineKeyboardButtonData("Grade another test", "reset")
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(btn))
}

func renderReview(ext *gateway.ExtractedData, corrections map[string]string, keys []string) string {
	var b strings.Builder
	b.WriteString("📄 *Extracted test paper*\n")
	fmt.Fprintf(&b, "Participant: %s\n", esc(ext.ParticipantName))
	if ext.Company != "" {
		fmt.Fprintf(&b, "Company: %s\n", esc(ext.Company))
	}
	if ext.Date != "" || ext.Place != "" {
		fmt.Fprintf(&b, "Date/place: %s %s\n", esc(ext.Date), esc(ext.Place))
	}
	fmt.Fprintf(&b, "Test: %s (%s), %d questions\n", esc(ext.TestType), esc(ext.MHEType), ext.TotalQuestions)

	b.WriteString("\n*Answers* (tap a question number below to correct it):\n")
	for _, k := range keys {
		cur := corrections[k]
		fmt.Fprintf(&b, "%s: %s", esc(k), esc(cur))
		if orig := ext.Answers[k]; orig != cur {
			fmt.Fprintf(&b, "  _(was %s)_", esc(orig))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderResult(res *gateway.GradingResult) string {
	var b strings.Builder
	b.WriteString("🏁 *Grading result*\n")
	fmt.Fprintf(&b, "%s / %s (%s)\n", esc(res.ParticipantName), esc(res.TestType), esc(res.MHEType))
	fmt.Fprintf(&b, "Score: *%.0f/%.0f* (%.1f%%), grade *%s*\n",
		res.TotalMarksObtained, res.TotalMarks, res.Percentage, esc(res.Grade))
	if len(res.Details) > 0 {
		b.WriteString("\n")
		for _, d := range res.Details {
			mark := "❌"
			if d.IsCorrect {
				mark = "✅"
			}
			fmt.Fprintf(&b, "%s %s: %s", mark, esc(d.QuestionNumber), esc(d.StudentAnswer))
			if !d.IsCorrect {
				fmt.Fprintf(&b, " (correct: %s)", esc(d.CorrectAnswer))
			}
			if d.Remark != "" {
				fmt.Fprintf(&b, ", %s", esc(d.Remark))
			}
			b.WriteString("\n")
		}
	}
	b.WriteString("\nSend another photo or tap the button to start over.")
	return b.String()
}

// light Markdown escaping for user-supplied text
func esc(s string) string {
	s = strings.ReplaceAll(s, "`", "'")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "[", "\\[")
	return s
}
