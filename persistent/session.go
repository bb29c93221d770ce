package persistent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sesja-auth/sesja"
	"github.com/uptrace/bun"
)

type Session struct {
	bun.BaseModel `bun:"table:sessions"`

	Id            uuid.UUID `bun:"id,pk,type:uuid"`
	UserId        int64     `bun:"user_id,notnull"`
	TokenDigest   []byte    `bun:"token_digest,notnull,unique,type:bytea"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	LastUsedAt    time.Time `bun:"last_used_at,nullzero,notnull,default:current_timestamp"`
	Revoked       bool      `bun:"revoked,notnull,default:false"`
	LastIpAddress string    `bun:"last_ip_address,notnull,type:inet"`
	LastUserAgent string    `bun:"last_user_agent,notnull"`
}

func (s Session) ToDomain() sesja.Session {
	var digest sesja.Digest
	copy(digest[:], s.TokenDigest)
	return sesja.Session{
		Id:            s.Id,
		UserId:        sesja.UserId(s.UserId),
		TokenDigest:   digest,
		CreatedAt:     s.CreatedAt,
		LastUsedAt:    s.LastUsedAt,
		Revoked:       s.Revoked,
		LastIp:        parseInet(s.LastIpAddress),
		LastUserAgent: s.LastUserAgent,
	}
}

// parseInet reads an address scanned from an inet column. The column
// type guarantees a valid address; a host address comes back without
// the prefix length, but strip it anyway in case a masked value ever
// ends up in the table.
func parseInet(value string) netip.Addr {
	text, _, _ := strings.Cut(value, "/")
	addr, _ := netip.ParseAddr(text)
	return addr
}

type SessionStore struct {
	DB *bun.DB
}

var _ sesja.SessionStore = (*SessionStore)(nil)

func (s *SessionStore) Insert(ctx context.Context, pending sesja.PendingSession) (sesja.Session, error) {
	digest := pending.TokenDigest
	session := &Session{
		Id:            uuid.New(),
		UserId:        int64(pending.UserId),
		TokenDigest:   digest[:],
		LastIpAddress: pending.LastIp.String(),
		LastUserAgent: pending.LastUserAgent,
	}
	_, err := s.DB.NewInsert().
		Model(session).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return sesja.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return session.ToDomain(), nil
}

func (s *SessionStore) ByTokenAndTouch(ctx context.Context,
	token string, ip netip.Addr, userAgent string) (sesja.Session, error) {
	digest := sesja.DigestToken(token)

	session := new(Session)
	err := s.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return tx.NewUpdate().
			Model(session).
			Set("last_used_at = now()").
			Set("last_ip_address = ?", ip.Unmap().String()).
			Set("last_user_agent = ?", userAgent).
			Where("token_digest = ?", digest[:]).
			Where("revoked = FALSE").
			Returning("*").
			Scan(ctx)
	})
	switch {
	case err == nil:
		return session.ToDomain(), nil
	case errors.Is(err, sql.ErrNoRows):
		// legitimate empty result, not a write failure
		return sesja.Session{}, sesja.ErrSessionNotFound
	}

	// The database may be in read only mode and reject the update.
	// Fall back to a plain read of the same filter, without touching
	// the metadata.
	err = s.DB.NewSelect().
		Model(session).
		Where("token_digest = ?", digest[:]).
		Where("revoked = FALSE").
		Limit(1).
		Scan(ctx)
	switch {
	case err == nil:
		return session.ToDomain(), nil
	case errors.Is(err, sql.ErrNoRows):
		return sesja.Session{}, sesja.ErrSessionNotFound
	default:
		return sesja.Session{}, fmt.Errorf("select session: %w", err)
	}
}

func (s *SessionStore) ByUserId(ctx context.Context, userId sesja.UserId) ([]sesja.Session, error) {
	var models []Session
	err := s.DB.NewSelect().
		Model(&models).
		Where("user_id = ?", int64(userId)).
		Where("revoked = FALSE").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select user sessions: %w", err)
	}
	sessions := make([]sesja.Session, len(models))
	for i, model := range models {
		sessions[i] = model.ToDomain()
	}
	return sessions, nil
}

func (s *SessionStore) Revoke(ctx context.Context, userId sesja.UserId, sessionId uuid.UUID) (bool, error) {
	res, err := s.DB.NewUpdate().
		Model((*Session)(nil)).
		Set("revoked = TRUE").
		Where("id = ?", sessionId).
		Where("user_id = ?", int64(userId)).
		Where("revoked = FALSE").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	changedRows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke rows affected: %w", err)
	}
	return changedRows == 1, nil
}
