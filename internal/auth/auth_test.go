package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	a, err := New(Config{AdminPIN: "4321", KioskPIN: "1234", Secret: "test-secret", TTL: time.Hour})
	require.NoError(t, err)
	return a
}

func TestLogin_IssuesVerifiableToken(t *testing.T) {
	a := setupAuthenticator(t)

	token, expires, err := a.Login(RoleKiosk, "1234")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	role, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, RoleKiosk, role)
}

func TestLogin_RejectsWrongPin(t *testing.T) {
	a := setupAuthenticator(t)

	tests := []struct {
		name string
		role Role
		pin  string
	}{
		{"wrong pin", RoleKiosk, "0000"},
		{"other role's pin", RoleAdmin, "1234"},
		{"unknown role", Role("usher"), "1234"},
		{"empty pin", RoleKiosk, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := a.Login(tt.role, tt.pin)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestLogin_RoleWithoutPinIsDisabled(t *testing.T) {
	a, err := New(Config{KioskPIN: "1234", Secret: "s"})
	require.NoError(t, err)

	_, _, err = a.Login(RoleAdmin, "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestVerify_RejectsExpiredAndForeignTokens(t *testing.T) {
	a := setupAuthenticator(t)
	token, _, err := a.Login(RoleAdmin, "4321")
	require.NoError(t, err)

	a.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = a.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidSession)

	other, err := New(Config{AdminPIN: "4321", Secret: "other-secret"})
	require.NoError(t, err)
	foreign, _, err := other.Login(RoleAdmin, "4321")
	require.NoError(t, err)

	a.now = time.Now
	_, err = a.Verify(foreign)
	assert.ErrorIs(t, err, ErrInvalidSession)

	_, err = a.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New(Config{AdminPIN: "1"})
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestRole_Allows(t *testing.T) {
	assert.True(t, RoleAdmin.Allows(RoleKiosk))
	assert.True(t, RoleKiosk.Allows(RoleKiosk))
	assert.False(t, RoleKiosk.Allows(RoleAdmin))
}
