// Package telegram is the bot front end. It turns chat updates into workflow
// operations and renders whatever state the controller lands in. The closed
// set of answer labels lives here, not in the core.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"grader-bot/api/internal/gateway"
	"grader-bot/api/internal/session"
	"grader-bot/api/internal/workflow"
)

type Router struct {
	Bot             *tgbotapi.BotAPI
	Sessions        *session.Manager
	API             *gateway.Client
	HistoryPageSize int

	flows sync.Map // chatID -> *workflow.Controller
}

// controller returns the chat's workflow, creating it on first contact. A
// session persisted by an earlier process is restored here, optimistically.
func (r *Router) controller(ctx context.Context, chatID int64) *workflow.Controller {
	if v, ok := r.flows.Load(chatID); ok {
		return v.(*workflow.Controller)
	}
	ctrl := workflow.New(r.API, func() string { return r.Sessions.Token(chatID) })
	v, loaded := r.flows.LoadOrStore(chatID, ctrl)
	ctrl = v.(*workflow.Controller)
	if !loaded {
		if _, ok := r.Sessions.Restore(ctx, chatID); ok {
			ctrl.Login()
		}
	}
	return ctrl
}

// SessionExpired is wired as the session manager's expiry callback: forced
// transition to LoggedOut plus a note in the chat, whatever was going on.
func (r *Router) SessionExpired(chatID int64) {
	ctx := context.Background()
	r.controller(ctx, chatID).ForceLogout("Session expired. Please /login again.")
	r.send(chatID, "⚠️ Session expired. Please /login again.")
}

func (r *Router) HandleUpdate(upd tgbotapi.Update) {
	if upd.CallbackQuery != nil {
		r.handleCallback(*upd.CallbackQuery)
		return
	}
	if upd.Message == nil {
		return
	}
	cid := upd.Message.Chat.ID

	if upd.Message.IsCommand() {
		r.handleCommand(upd)
		return
	}
	if len(upd.Message.Photo) > 0 || upd.Message.Document != nil {
		r.acceptFile(*upd.Message)
		return
	}
	if upd.Message.Text != "" {
		r.send(cid, "Send a photo of the filled-in test paper, or /start for help.")
	}
}

func (r *Router) handleCommand(upd tgbotapi.Update) {
	ctx := context.Background()
	cid := upd.Message.Chat.ID
	ctrl := r.controller(ctx, cid)

	switch upd.Message.Command() {
	case "start":
		var b strings.Builder
		b.WriteString("MHE test grading bot.\n\n")
		if s := r.Sessions.Get(cid); s != nil {
			fmt.Fprintf(&b, "Logged in as %s.\n", s.User.DisplayName)
			b.WriteString("Send a photo of a filled-in test paper to begin.\n")
		} else {
			b.WriteString("Log in first: /login <username> <password>\n")
		}
		b.WriteString("\nCommands: /login, /logout, /cancel, /history, /health")
		r.send(cid, b.String())

	case "login":
		r.handleLogin(ctx, upd, ctrl)

	case "logout":
		r.Sessions.Logout(ctx, cid)
		ctrl.Logout()
		r.send(cid, "Logged out.")

	case "cancel":
		if ctrl.State() == workflow.StateLoggedOut {
			r.send(cid, "Nothing to cancel, you are not logged in.")
			return
		}
		ctrl.Reset()
		r.send(cid, "Started over. Send a photo of the next test paper.")

	case "history":
		r.handleHistory(ctx, cid)

	case "health":
		if err := r.API.Health(ctx); err != nil {
			r.sendCallError(cid, err)
			return
		}
		r.send(cid, "✅ Grading service is up.")

	default:
		r.send(cid, "Unknown command. Try /start.")
	}
}

func (r *Router) handleLogin(ctx context.Context, upd tgbotapi.Update, ctrl *workflow.Controller) {
	cid := upd.Message.Chat.ID
	args := strings.Fields(strings.TrimSpace(strings.TrimPrefix(upd.Message.Text, "/login")))
	// The message holds credentials; get it out of the chat history.
	_, _ = r.Bot.Request(tgbotapi.NewDeleteMessage(cid, upd.Message.MessageID))

	if len(args) != 2 {
		r.send(cid, "Usage: /login <username> <password>")
		return
	}
	if r.Sessions.Get(cid) != nil {
		r.send(cid, "Already logged in. /logout first to switch accounts.")
		return
	}
	s, err := r.Sessions.Login(ctx, cid, args[0], args[1])
	if err != nil {
		// a 401 here means bad credentials, not an expired session
		if gateway.KindOf(err) == gateway.KindAuthExpired {
			r.send(cid, "⚠️ Invalid username or password.")
			return
		}
		r.sendCallError(cid, err)
		return
	}
	ctrl.Login()
	r.send(cid, fmt.Sprintf("✅ Logged in as %s (%s). Send a photo of a filled-in test paper.",
		s.User.DisplayName, s.User.Role))
}

func (r *Router) handleHistory(ctx context.Context, cid int64) {
	token := r.Sessions.Token(cid)
	if token == "" {
		r.send(cid, "Log in first: /login <username> <password>")
		return
	}
	limit := r.HistoryPageSize
	if limit <= 0 {
		limit = 10
	}
	results, err := r.API.Results(ctx, token, 0, limit)
	if err != nil {
		r.sendCallError(cid, err)
		return
	}
	if len(results) == 0 {
		r.send(cid, "No graded tests yet.")
		return
	}
	var b strings.Builder
	b.WriteString("Recent results:\n")
	for i, res := range results {
		fmt.Fprintf(&b, "%d) %s, %s: %.0f/%.0f (%.1f%%, %s)\n",
			i+1, esc(res.ParticipantName), esc(res.TestType),
			res.TotalMarksObtained, res.TotalMarks, res.Percentage, esc(res.Grade))
	}
	r.send(cid, b.String())
}

func (r *Router) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := r.Bot.Send(msg); err != nil {
		slog.Warn("send failed", "chat_id", chatID, "err", err)
	}
}

func (r *Router) sendMarkdown(chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	if kb != nil {
		msg.ReplyMarkup = *kb
	}
	if _, err := r.Bot.Send(msg); err != nil {
		slog.Warn("send failed", "chat_id", chatID, "err", err)
	}
}

// sendCallError renders a classified failure. Auth expiry stays quiet here:
// the expiry callback has already told the user.
func (r *Router) sendCallError(cid int64, err error) {
	if errors.Is(err, workflow.ErrBusy) {
		r.send(cid, "Still working on the previous request, hold on.")
		return
	}
	if errors.Is(err, workflow.ErrBadState) {
		r.send(cid, "That action is not available right now. /start shows where you are.")
		return
	}
	if gateway.KindOf(err) == gateway.KindAuthExpired {
		return
	}
	r.send(cid, "⚠️ "+gateway.UserMessage(err))
}
