package sesja

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned by lookups when no unrevoked session
// matches. Upstream authentication should treat it exactly like an
// invalid token, without telling the client why the lookup failed.
var ErrSessionNotFound = errors.New("session not found")

type UserId int64

// Session is a single authenticated session. The plaintext token is
// never part of it; only its digest is ever kept.
type Session struct {
	Id            uuid.UUID
	UserId        UserId
	TokenDigest   Digest
	CreatedAt     time.Time
	LastUsedAt    time.Time
	Revoked       bool
	LastIp        netip.Addr
	LastUserAgent string
}

// SessionStore persists sessions. Implementations must mutate records
// only through single atomic statements so a touch racing a revoke can
// not leave a partially updated row.
type SessionStore interface {
	// Insert persists a built session and returns it with the
	// store-assigned id and timestamps filled in.
	Insert(ctx context.Context, pending PendingSession) (Session, error)

	// ByTokenAndTouch looks up the unrevoked session matching the
	// digest of token and refreshes its last used metadata (timestamp,
	// ip, user agent) in the same step, returning the refreshed record.
	// If the backing store cannot accept the write, the lookup degrades
	// to a plain read of the same filter. Returns ErrSessionNotFound
	// when no unrevoked session matches.
	ByTokenAndTouch(ctx context.Context, token string, ip netip.Addr, userAgent string) (Session, error)

	// ByUserId returns all unrevoked sessions of the given user.
	ByUserId(ctx context.Context, userId UserId) ([]Session, error)

	// Revoke marks the session as revoked if it belongs to userId and
	// is not revoked yet. Reports whether a record was changed; wrong
	// owner, unknown id and already-revoked all yield false.
	Revoke(ctx context.Context, userId UserId, sessionId uuid.UUID) (bool, error)
}
