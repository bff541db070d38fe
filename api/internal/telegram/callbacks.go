package telegram

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"grader-bot/api/internal/workflow"
)

func (r *Router) handleCallback(cb tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	cid := cb.Message.Chat.ID
	data := cb.Data
	_, _ = r.Bot.Request(tgbotapi.NewCallback(cb.ID, "")) // ack

	ctx := context.Background()
	ctrl := r.controller(ctx, cid)

	switch {
	case data == "extract":
		r.onExtract(cid, ctrl, cb.Message.MessageID)
	case data == "submit":
		r.onSubmit(cid, ctrl, cb.Message.MessageID)
	case data == "reset":
		ctrl.Reset()
		r.send(cid, "Started over. Send a photo of the next test paper.")
	case strings.HasPrefix(data, "edit:"):
		r.onEdit(cid, ctrl, strings.TrimPrefix(data, "edit:"))
	case strings.HasPrefix(data, "set:"):
		r.onSet(cid, ctrl, strings.TrimPrefix(data, "set:"))
	}
}

func (r *Router) onExtract(cid int64, ctrl *workflow.Controller, msgID int) {
	// drop the button so a stale message can't start a second run
	edit := tgbotapi.NewEditMessageReplyMarkup(cid, msgID, tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	_, _ = r.Bot.Send(edit)
	r.send(cid, "⏳ Extracting answers, this can take a minute…")

	go func() {
		ctx := context.Background()
		if err := ctrl.Extract(ctx); err != nil {
			r.sendCallError(cid, err)
			return
		}
		r.sendReview(cid, ctrl)
	}()
}

func (r *Router) onSubmit(cid int64, ctrl *workflow.Controller, msgID int) {
	edit := tgbotapi.NewEditMessageReplyMarkup(cid, msgID, tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	_, _ = r.Bot.Send(edit)
	r.send(cid, "⏳ Grading…")

	go func() {
		ctx := context.Background()
		if err := ctrl.Submit(ctx); err != nil {
			r.sendCallError(cid, err)
			if ctrl.State() == workflow.StateReviewing {
				r.sendReview(cid, ctrl)
			}
			return
		}
		r.sendResult(cid, ctrl)
	}()
}

func (r *Router) onEdit(cid int64, ctrl *workflow.Controller, key string) {
	if ctrl.State() != workflow.StateReviewing {
		r.send(cid, "Nothing to edit right now.")
		return
	}
	cur := ctrl.Corrections()[key]
	kb := makeAnswerKeyboard(key)
	r.sendMarkdown(cid, "Question *"+esc(key)+"*: currently *"+esc(cur)+"*. Pick the answer:", &kb)
}

func (r *Router) onSet(cid int64, ctrl *workflow.Controller, arg string) {
	// "<key>:<label index>"
	i := strings.LastIndexByte(arg, ':')
	if i < 0 {
		return
	}
	key := arg[:i]
	idx, err := strconv.Atoi(arg[i+1:])
	if err != nil || idx < 0 || idx >= len(answerLabels) {
		return
	}
	if err := ctrl.EditAnswer(key, answerLabels[idx]); err != nil {
		r.sendCallError(cid, err)
		return
	}
	r.sendReview(cid, ctrl)
}

func (r *Router) sendReview(cid int64, ctrl *workflow.Controller) {
	if ctrl.State() != workflow.StateReviewing {
		return
	}
	ext := ctrl.Extraction()
	if ext == nil {
		return
	}
	keys := ctrl.OrderedKeys()
	kb := makeReviewKeyboard(keys)
	r.sendMarkdown(cid, renderReview(ext, ctrl.Corrections(), keys), &kb)
}

func (r *Router) sendResult(cid int64, ctrl *workflow.Controller) {
	res := ctrl.Result()
	if res == nil {
		return
	}
	kb := makeResultKeyboard()
	r.sendMarkdown(cid, renderResult(res), &kb)
}
