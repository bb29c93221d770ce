package sesja

import (
	"errors"
	"fmt"
	"net/netip"
)

// MaxUserAgentLen bounds the stored user agent. Longer input is a
// caller bug, not something to truncate silently.
const MaxUserAgentLen = 1024

// ErrSessionIncomplete is returned by SessionBuilder.Build when a
// required field is missing or invalid.
var ErrSessionIncomplete = errors.New("session incomplete")

// PendingSession is a validated session that has not been persisted
// yet. Obtain one through NewSession and pass it to SessionStore.Insert.
type PendingSession struct {
	UserId        UserId
	TokenDigest   Digest
	LastIp        netip.Addr
	LastUserAgent string
}

// SessionBuilder stages construction of a new session:
//
//	pending, err := sesja.NewSession().
//		UserId(user.Id).
//		Token(token).
//		LastIp(addr).
//		LastUserAgent(userAgent).
//		Build()
//
// Token digests the plaintext immediately, so the builder never holds
// the raw token. Tokens come from GenerateToken.
type SessionBuilder struct {
	userId    *UserId
	digest    *Digest
	ip        *netip.Addr
	userAgent *string
}

func NewSession() *SessionBuilder {
	return &SessionBuilder{}
}

func (b *SessionBuilder) UserId(userId UserId) *SessionBuilder {
	b.userId = &userId
	return b
}

// Token digests token and keeps only the digest.
func (b *SessionBuilder) Token(token string) *SessionBuilder {
	digest := DigestToken(token)
	b.digest = &digest
	return b
}

// LastIp sets the client address, unmapped to its canonical form
// (4-in-6 addresses become plain v4).
func (b *SessionBuilder) LastIp(ip netip.Addr) *SessionBuilder {
	unmapped := ip.Unmap()
	b.ip = &unmapped
	return b
}

func (b *SessionBuilder) LastUserAgent(userAgent string) *SessionBuilder {
	b.userAgent = &userAgent
	return b
}

// Build validates the staged fields and returns an unpersisted session.
// Errors wrap ErrSessionIncomplete.
func (b *SessionBuilder) Build() (PendingSession, error) {
	switch {
	case b.userId == nil:
		return PendingSession{}, fmt.Errorf("%w: user id not set", ErrSessionIncomplete)
	case b.digest == nil:
		return PendingSession{}, fmt.Errorf("%w: token not set", ErrSessionIncomplete)
	case b.ip == nil:
		return PendingSession{}, fmt.Errorf("%w: last ip not set", ErrSessionIncomplete)
	case !b.ip.IsValid():
		return PendingSession{}, fmt.Errorf("%w: last ip invalid", ErrSessionIncomplete)
	case b.userAgent == nil:
		return PendingSession{}, fmt.Errorf("%w: last user agent not set", ErrSessionIncomplete)
	case len(*b.userAgent) > MaxUserAgentLen:
		return PendingSession{}, fmt.Errorf("%w: last user agent longer than %d bytes",
			ErrSessionIncomplete, MaxUserAgentLen)
	}
	return PendingSession{
		UserId:        *b.userId,
		TokenDigest:   *b.digest,
		LastIp:        *b.ip,
		LastUserAgent: *b.userAgent,
	}, nil
}
