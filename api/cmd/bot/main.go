package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver

	"grader-bot/api/internal/config"
	"grader-bot/api/internal/gateway"
	"grader-bot/api/internal/httpserver"
	"grader-bot/api/internal/logger"
	"grader-bot/api/internal/session"
	"grader-bot/api/internal/store"
	"grader-bot/api/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	// Prefer platform PORT env var; fallback to cfg.Port
	if p := strings.TrimSpace(os.Getenv("PORT")); p != "" {
		cfg.Port = p
	}

	// --- Postgres ---
	dsn := resolveDSN(cfg.DatabaseURL)
	if dsn == "" {
		log.Fatal("database DSN is empty: set DATABASE_URL or POSTGRES_* env vars")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("sql.Open: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(1 * time.Hour)
	{
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("db.Ping: %v", err)
		}
		slog.Info("db connected")
	}

	kv := store.NewClientKV(db)
	{
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := kv.EnsureSchema(ctx); err != nil {
			log.Fatalf("db schema: %v", err)
		}
	}

	// --- Backend gateway + sessions ---
	api := gateway.New(cfg.BackendURL, cfg.HTTPTimeout, cfg.ExtractTimeout)
	sessions := session.NewManager(api, kv)
	api.SetUnauthorizedHook(sessions.HandleUnauthorized)

	// --- Telegram bot ---
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Fatal(err)
	}
	bot.Debug = false

	r := &telegram.Router{
		Bot:             bot,
		Sessions:        sessions,
		API:             api,
		HistoryPageSize: cfg.HistoryPageSize,
	}
	sessions.OnExpired(r.SessionExpired)

	addr := "0.0.0.0:" + cfg.Port
	ping := func(ctx context.Context) error { return db.PingContext(ctx) }

	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL != "" {
		startWebhookMode(addr, bot, r, webhookURL, ping)
	} else {
		startPollingMode(addr, bot, r, ping)
	}
}

// ---------------- Modes -----------------

func startWebhookMode(addr string, bot *tgbotapi.BotAPI, r *telegram.Router, baseURL string, ping func(context.Context) error) {
	path := "/webhook/" + shortHash(bot.Token)
	public := strings.TrimRight(baseURL, "/") + path

	wh, err := tgbotapi.NewWebhook(public)
	if err != nil {
		log.Fatal(err)
	}
	wh.DropPendingUpdates = true
	if _, err := bot.Request(wh); err != nil {
		log.Fatal(err)
	}

	// registers the handler on the default mux, next to /healthz
	updates := bot.ListenForWebhook(path)
	go func() {
		for upd := range updates {
			r.HandleUpdate(upd)
		}
		slog.Info("webhook updates channel closed")
	}()

	slog.Info("webhook mode", "path", path)
	if err := httpserver.StartHTTP(addr, ping); err != nil {
		log.Fatal(err)
	}
}

func startPollingMode(addr string, bot *tgbotapi.BotAPI, r *telegram.Router, ping func(context.Context) error) {
	go func() {
		if err := httpserver.StartHTTP(addr, ping); err != nil {
			log.Fatal(err)
		}
	}()
	runPolling(context.Background(), bot, r.HandleUpdate)
}

// ---------------- Polling loop -----------------

func retryDelayFromError(err error) time.Duration {
	if err == nil {
		return 0
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "too many requests") { // HTTP 429 from Telegram
		if i := strings.Index(s, "retry after "); i >= 0 {
			rest := strings.Fields(s[i+len("retry after "):])
			if len(rest) > 0 {
				if n, _ := strconv.Atoi(rest[0]); n > 0 {
					return time.Duration(n) * time.Second
				}
			}
		}
		return 3 * time.Second
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return 2 * time.Second
	}
	return 1 * time.Second
}

func runPolling(ctx context.Context, bot *tgbotapi.BotAPI, handle func(tgbotapi.Update)) {
	offset := 0
	baseDelay := 1 * time.Second
	maxDelay := 15 * time.Second

	for {
		select {
		case <-ctx.Done():
			slog.Info("polling: context cancelled")
			return
		default:
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = 30 // long polling timeout (sec)

		updates, err := bot.GetUpdates(u)
		if err != nil {
			d := retryDelayFromError(err)
			if d < baseDelay {
				d = baseDelay
			}
			if d > maxDelay {
				d = maxDelay
			}
			slog.Warn("polling error", "err", err, "retry_in", d)
			time.Sleep(d)
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			handle(upd)
		}
		if len(updates) == 0 {
			time.Sleep(200 * time.Millisecond)
		}
	}
}

// ---------------- Helpers -----------------

func resolveDSN(configured string) string {
	if v := strings.TrimSpace(configured); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		return v
	}
	user := getenvDefault("POSTGRES_USER", "grader")
	pass := os.Getenv("POSTGRES_PASSWORD")
	host := getenvDefault("PGHOST", "db")
	port := getenvDefault("PGPORT", "5432")
	name := getenvDefault("POSTGRES_DB", "grader")

	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, pass),
		Host:     net.JoinHostPort(host, port),
		Path:     "/" + name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func getenvDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// stable non-crypto hash for the webhook path
func shortHash(s string) string {
	h := uint64(1469598103934665603)
	const prime = 1099511628211
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		out[i] = hexdigits[h&0xF]
		h >>= 4
	}
	return string(out)
}
