package sesja

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuilderBuild(t *testing.T) {
	assert := assert.New(t)

	token, err := GenerateToken()
	if !assert.NoError(err) {
		return
	}
	pending, err := NewSession().
		UserId(42).
		Token(token).
		LastIp(netip.MustParseAddr("192.168.0.42")).
		LastUserAgent("Chrome/openBased").
		Build()
	if !assert.NoError(err) {
		return
	}
	assert.Equal(UserId(42), pending.UserId)
	assert.Equal(DigestToken(token), pending.TokenDigest)
	assert.Equal(netip.MustParseAddr("192.168.0.42"), pending.LastIp)
	assert.Equal("Chrome/openBased", pending.LastUserAgent)
}

func TestBuilderMissingFields(t *testing.T) {
	assert := assert.New(t)

	ip := netip.MustParseAddr("10.0.0.7")
	builders := map[string]*SessionBuilder{
		"user id":    NewSession().Token("t").LastIp(ip).LastUserAgent("ua"),
		"token":      NewSession().UserId(1).LastIp(ip).LastUserAgent("ua"),
		"last ip":    NewSession().UserId(1).Token("t").LastUserAgent("ua"),
		"user agent": NewSession().UserId(1).Token("t").LastIp(ip),
	}
	for name, builder := range builders {
		_, err := builder.Build()
		assert.ErrorIs(err, ErrSessionIncomplete, "builder without %s", name)
	}
}

func TestBuilderInvalidIp(t *testing.T) {
	assert := assert.New(t)

	_, err := NewSession().
		UserId(1).
		Token("t").
		LastIp(netip.Addr{}).
		LastUserAgent("ua").
		Build()
	assert.ErrorIs(err, ErrSessionIncomplete)
}

func TestBuilderUnmapsIp(t *testing.T) {
	assert := assert.New(t)

	pending, err := NewSession().
		UserId(1).
		Token("t").
		LastIp(netip.MustParseAddr("::ffff:192.168.0.42")).
		LastUserAgent("ua").
		Build()
	if !assert.NoError(err) {
		return
	}
	assert.Equal(netip.MustParseAddr("192.168.0.42"), pending.LastIp)
	assert.True(pending.LastIp.Is4())
}

func TestBuilderUserAgentTooLong(t *testing.T) {
	assert := assert.New(t)

	_, err := NewSession().
		UserId(1).
		Token("t").
		LastIp(netip.MustParseAddr("10.0.0.7")).
		LastUserAgent(strings.Repeat("a", MaxUserAgentLen+1)).
		Build()
	assert.ErrorIs(err, ErrSessionIncomplete)
}
