package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"grader-bot/api/internal/gateway"
	"grader-bot/api/internal/workflow"
)

// Albums arrive as separate messages; wait this long for the rest before
// treating the batch as done.
const debounce = 1200 * time.Millisecond

type fileBatch struct {
	ChatID int64

	mu    sync.Mutex
	docs  []*gateway.Document
	timer *time.Timer
}

var batches sync.Map // key -> *fileBatch

func (r *Router) acceptFile(msg tgbotapi.Message) {
	cid := msg.Chat.ID
	ctx := context.Background()
	ctrl := r.controller(ctx, cid)
	if ctrl.State() == workflow.StateLoggedOut {
		r.send(cid, "Log in first: /login <username> <password>")
		return
	}

	doc, err := r.fetchDocument(msg)
	if err != nil {
		r.send(cid, "⚠️ Could not download the file from Telegram, please resend it.")
		return
	}

	key := "chat:" + fmt.Sprint(cid)
	if msg.MediaGroupID != "" {
		key = "grp:" + msg.MediaGroupID
	}
	bi, _ := batches.LoadOrStore(key, &fileBatch{ChatID: cid})
	b := bi.(*fileBatch)

	b.mu.Lock()
	b.docs = append(b.docs, doc)
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(debounce, func() { r.finishBatch(key) })
	b.mu.Unlock()
}

// finishBatch settles one selection. The backend grades one file per test, so
// a multi-photo album keeps only its first page.
func (r *Router) finishBatch(key string) {
	bi, ok := batches.Load(key)
	if !ok {
		return
	}
	b := bi.(*fileBatch)

	b.mu.Lock()
	docs := b.docs
	cid := b.ChatID
	batches.Delete(key)
	b.mu.Unlock()

	if len(docs) == 0 {
		return
	}
	if len(docs) > 1 {
		r.send(cid, "One file per test; taking the first photo and ignoring the rest.")
	}

	ctx := context.Background()
	ctrl := r.controller(ctx, cid)
	if err := ctrl.SelectDocument(docs[0]); err != nil {
		r.sendCallError(cid, err)
		return
	}
	kb := makeExtractKeyboard()
	r.sendMarkdown(cid, "File received: *"+esc(docs[0].Name)+"*", &kb)
}

func (r *Router) fetchDocument(msg tgbotapi.Message) (*gateway.Document, error) {
	var fileID, name, mime string
	switch {
	case msg.Document != nil:
		fileID = msg.Document.FileID
		name = msg.Document.FileName
		mime = msg.Document.MimeType
	default:
		// largest preview is last
		ph := msg.Photo[len(msg.Photo)-1]
		fileID = ph.FileID
		name = "photo.jpg"
	}

	file, err := r.Bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", r.Bot.Token, file.FilePath)
	data, err := download(url)
	if err != nil {
		return nil, err
	}
	if mime == "" {
		mime = sniffMIME(data)
	}
	return &gateway.Document{Name: name, MIME: mime, Bytes: data}, nil
}

func download(url string) ([]byte, error) {
	resp, err := httpClient().Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(resp.Body)
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}
