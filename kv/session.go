// Package kv is a buntdb backed session store. It mirrors the
// relational store's behavior for setups that keep sessions in a local
// key-value file instead of postgres.
package kv

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/sesja-auth/sesja"
	"github.com/tidwall/buntdb"
)

type Session struct {
	Id            uuid.UUID `json:"id"`
	UserId        int64     `json:"userId"`
	TokenDigest   []byte    `json:"tokenDigest"`
	CreatedAt     time.Time `json:"createdAt"`
	LastUsedAt    time.Time `json:"lastUsedAt"`
	Revoked       bool      `json:"revoked"`
	LastIpAddress string    `json:"lastIpAddress"`
	LastUserAgent string    `json:"lastUserAgent"`
}

func (s Session) ToDomain() sesja.Session {
	var digest sesja.Digest
	copy(digest[:], s.TokenDigest)
	// addresses are written with netip.Addr.String, always parseable
	addr, _ := netip.ParseAddr(s.LastIpAddress)
	return sesja.Session{
		Id:            s.Id,
		UserId:        sesja.UserId(s.UserId),
		TokenDigest:   digest,
		CreatedAt:     s.CreatedAt,
		LastUsedAt:    s.LastUsedAt,
		Revoked:       s.Revoked,
		LastIp:        addr,
		LastUserAgent: s.LastUserAgent,
	}
}

type SessionStore struct {
	Buntdb *buntdb.DB
}

var _ sesja.SessionStore = (*SessionStore)(nil)

func (s *SessionStore) CreateIndexes() error {
	return s.Buntdb.CreateIndex("sessions", "session:*", buntdb.IndexString)
}

// Keys are derived from the token digest, never from the token, so a
// raw token cannot leak into the store file.
func sessionKey(digestHex string) string {
	return "session:" + digestHex
}

func sessionByIdKey(id uuid.UUID) string {
	return "session_by_id:" + id.String()
}

func (s *SessionStore) Insert(ctx context.Context, pending sesja.PendingSession) (sesja.Session, error) {
	now := time.Now().UTC()
	digest := pending.TokenDigest
	session := Session{
		Id:            uuid.New(),
		UserId:        int64(pending.UserId),
		TokenDigest:   digest[:],
		CreatedAt:     now,
		LastUsedAt:    now,
		LastIpAddress: pending.LastIp.String(),
		LastUserAgent: pending.LastUserAgent,
	}
	serializedSession, err := json.Marshal(&session)
	if err != nil {
		return sesja.Session{}, fmt.Errorf("session serialize: %w", err)
	}
	digestHex := hex.EncodeToString(digest[:])

	err = s.Buntdb.Update(func(tx *buntdb.Tx) error {
		_, replaced, err := tx.Set(sessionByIdKey(session.Id), digestHex, nil)
		if err != nil {
			return fmt.Errorf("set map session id to digest: %w", err)
		}
		if replaced {
			return fmt.Errorf("rarest uuid collision '%s' (not possible)", session.Id)
		}

		_, replaced, err = tx.Set(sessionKey(digestHex), string(serializedSession), nil)
		if err != nil {
			return fmt.Errorf("set session: %w", err)
		}
		if replaced {
			return fmt.Errorf("token digest '%s' already in use", digestHex)
		}
		return nil
	})
	if err != nil {
		return sesja.Session{}, fmt.Errorf("bunt update: %w", err)
	}
	return session.ToDomain(), nil
}

func (s *SessionStore) ByTokenAndTouch(ctx context.Context,
	token string, ip netip.Addr, userAgent string) (sesja.Session, error) {
	digest := sesja.DigestToken(token)
	digestHex := hex.EncodeToString(digest[:])

	var session Session
	err := s.Buntdb.Update(func(tx *buntdb.Tx) error {
		serializedSession, err := tx.Get(sessionKey(digestHex))
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(serializedSession), &session); err != nil {
			return fmt.Errorf("deserialize session: %w", err)
		}
		if session.Revoked {
			return buntdb.ErrNotFound
		}

		session.LastUsedAt = time.Now().UTC()
		session.LastIpAddress = ip.Unmap().String()
		session.LastUserAgent = userAgent
		touchedSession, err := json.Marshal(&session)
		if err != nil {
			return fmt.Errorf("serialize touched session: %w", err)
		}
		if _, _, err = tx.Set(sessionKey(digestHex), string(touchedSession), nil); err != nil {
			return fmt.Errorf("store touched session: %w", err)
		}
		return nil
	})
	switch {
	case err == nil:
		return session.ToDomain(), nil
	case errors.Is(err, buntdb.ErrNotFound):
		// legitimate empty result, not a write failure
		return sesja.Session{}, sesja.ErrSessionNotFound
	}

	// The store may be opened read only and reject the update. Fall
	// back to a plain read of the same filter, without touching the
	// metadata. The record is reloaded because session may hold the
	// rolled back touch.
	var fallbackSession Session
	err = s.Buntdb.View(func(tx *buntdb.Tx) error {
		serializedSession, err := tx.Get(sessionKey(digestHex))
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(serializedSession), &fallbackSession); err != nil {
			return fmt.Errorf("deserialize session: %w", err)
		}
		if fallbackSession.Revoked {
			return buntdb.ErrNotFound
		}
		return nil
	})
	switch {
	case err == nil:
		return fallbackSession.ToDomain(), nil
	case errors.Is(err, buntdb.ErrNotFound):
		return sesja.Session{}, sesja.ErrSessionNotFound
	default:
		return sesja.Session{}, fmt.Errorf("bunt view: %w", err)
	}
}

func (s *SessionStore) ByUserId(ctx context.Context, userId sesja.UserId) ([]sesja.Session, error) {
	sessions := make([]sesja.Session, 0, 10)
	var listErr error
	err := s.Buntdb.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("sessions", func(key, value string) bool {
			var session Session
			if err := json.Unmarshal([]byte(value), &session); err != nil {
				listErr = fmt.Errorf("deserialize session: %w", err)
				return false
			}
			if session.UserId == int64(userId) && !session.Revoked {
				sessions = append(sessions, session.ToDomain())
			}
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("ascend sessions: %w", err)
	}
	if listErr != nil {
		return nil, fmt.Errorf("ascend content sessions: %w", listErr)
	}
	return sessions, nil
}

func (s *SessionStore) Revoke(ctx context.Context, userId sesja.UserId, sessionId uuid.UUID) (bool, error) {
	changed := false
	err := s.Buntdb.Update(func(tx *buntdb.Tx) error {
		digestHex, err := tx.Get(sessionByIdKey(sessionId))
		if err != nil {
			return err
		}
		serializedSession, err := tx.Get(sessionKey(digestHex))
		if err != nil {
			return err
		}
		var session Session
		if err := json.Unmarshal([]byte(serializedSession), &session); err != nil {
			return fmt.Errorf("deserialize session: %w", err)
		}
		if session.UserId != int64(userId) || session.Revoked {
			// wrong owner or already revoked, not an error
			return nil
		}

		session.Revoked = true
		revokedSession, err := json.Marshal(&session)
		if err != nil {
			return fmt.Errorf("serialize revoked session: %w", err)
		}
		if _, _, err = tx.Set(sessionKey(digestHex), string(revokedSession), nil); err != nil {
			return fmt.Errorf("store revoked session: %w", err)
		}
		changed = true
		return nil
	})
	switch {
	case errors.Is(err, buntdb.ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("bunt update: %w", err)
	}
	return changed, nil
}
