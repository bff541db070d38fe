package store

import (
	"context"
	"database/sql"
)

var ErrNotFound = sql.ErrNoRows

// Storage keys for the persisted session. Always written and cleared as a
// pair: a token without a profile (or the reverse) must never be observable.
const (
	keyToken = "auth_token"
	keyUser  = "auth_user"
)

// ClientKV is the bot's durable key/value state, one namespace per chat.
type ClientKV struct{ DB *sql.DB }

func NewClientKV(db *sql.DB) *ClientKV { return &ClientKV{DB: db} }

func (s *ClientKV) EnsureSchema(ctx context.Context) error {
	const q = `
create table if not exists client_kv (
  chat_id    bigint      not null,
  k          text        not null,
  v          text        not null,
  updated_at timestamptz not null default now(),
  primary key (chat_id, k)
)`
	_, err := s.DB.ExecContext(ctx, q)
	return err
}

// SaveSession stores the bearer token and the serialized user profile in one
// statement.
func (s *ClientKV) SaveSession(ctx context.Context, chatID int64, token string, userJSON []byte) error {
	const q = `
insert into client_kv (chat_id, k, v, updated_at)
values ($1, $2, $3, now()), ($1, $4, $5, now())
on conflict (chat_id, k) do update
set v = excluded.v,
    updated_at = excluded.updated_at`
	_, err := s.DB.ExecContext(ctx, q, chatID, keyToken, token, keyUser, string(userJSON))
	return err
}

// LoadSession returns the persisted token and user JSON. If either key is
// missing the session counts as absent.
func (s *ClientKV) LoadSession(ctx context.Context, chatID int64) (string, []byte, error) {
	const q = `select k, v from client_kv where chat_id = $1 and k in ($2, $3)`
	rows, err := s.DB.QueryContext(ctx, q, chatID, keyToken, keyUser)
	if err != nil {
		return "", nil, err
	}
	defer rows.Close()

	var token, user string
	var haveToken, haveUser bool
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return "", nil, err
		}
		switch k {
		case keyToken:
			token, haveToken = v, true
		case keyUser:
			user, haveUser = v, true
		}
	}
	if err := rows.Err(); err != nil {
		return "", nil, err
	}
	if !haveToken || !haveUser {
		return "", nil, ErrNotFound
	}
	return token, []byte(user), nil
}

// ClearSession removes both keys at once. Clearing an absent session is fine.
func (s *ClientKV) ClearSession(ctx context.Context, chatID int64) error {
	const q = `delete from client_kv where chat_id = $1 and k in ($2, $3)`
	_, err := s.DB.ExecContext(ctx, q, chatID, keyToken, keyUser)
	return err
}
