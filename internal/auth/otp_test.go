package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOTPGenerateFormat(t *testing.T) {
	g := NewOTPGenerator(DefaultOTPLength, DefaultOTPTTL)

	otp, err := g.Generate()
	require.NoError(t, err)
	require.Len(t, otp.Code, DefaultOTPLength)
	for _, r := range otp.Code {
		require.True(t, r >= '0' && r <= '9', "code %q contains non-digit", otp.Code)
	}
	require.True(t, otp.ExpiresAt.Equal(otp.CreatedAt.Add(DefaultOTPTTL)))
}

func TestOTPGenerateCustomLength(t *testing.T) {
	g := NewOTPGenerator(8, 5*time.Minute)

	otp, err := g.Generate()
	require.NoError(t, err)
	require.Len(t, otp.Code, 8)
	require.True(t, otp.ExpiresAt.Equal(otp.CreatedAt.Add(5*time.Minute)))
}

func TestOTPGeneratorDefaults(t *testing.T) {
	g := NewOTPGenerator(0, 0)
	require.Equal(t, DefaultOTPLength, g.length)
	require.Equal(t, DefaultOTPTTL, g.ttl)
}

func TestOTPGenerateUsesClock(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	g := NewOTPGenerator(6, time.Minute)
	g.now = fixedClock(at)

	otp, err := g.Generate()
	require.NoError(t, err)
	require.True(t, otp.CreatedAt.Equal(at))
	require.True(t, otp.ExpiresAt.Equal(at.Add(time.Minute)))
}
