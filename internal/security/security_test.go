package security_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/security"
)

func TestTokenService(t *testing.T) {
	svc := security.NewTokenService("test-secret", time.Hour)

	t.Run("RoundTrip", func(t *testing.T) {
		token, err := svc.CreateForUser(42)
		require.NoError(t, err)

		id, err := svc.ParseUserID(token)
		require.NoError(t, err)
		assert.Equal(t, int64(42), id)
	})

	t.Run("RejectsWrongSecret", func(t *testing.T) {
		other := security.NewTokenService("other-secret", time.Hour)
		token, err := other.CreateForUser(42)
		require.NoError(t, err)

		_, err = svc.ParseUserID(token)
		assert.Error(t, err)
	})

	t.Run("RejectsExpired", func(t *testing.T) {
		expired := security.NewTokenService("test-secret", -time.Minute)
		token, err := expired.CreateForUser(42)
		require.NoError(t, err)

		_, err = svc.ParseUserID(token)
		assert.Error(t, err)
	})

	t.Run("RejectsGarbage", func(t *testing.T) {
		_, err := svc.ParseUserID("not.a.token")
		assert.Error(t, err)
	})
}

func TestEncryptor(t *testing.T) {
	enc, err := security.NewEncryptor([]byte("any-length secret works"))
	require.NoError(t, err)

	t.Run("RoundTrip", func(t *testing.T) {
		cipher, err := enc.Encrypt("hello world")
		require.NoError(t, err)
		assert.NotEqual(t, "hello world", cipher)

		plain, err := enc.Decrypt(cipher)
		require.NoError(t, err)
		assert.Equal(t, "hello world", plain)
	})

	t.Run("NoncesDiffer", func(t *testing.T) {
		a, err := enc.Encrypt("same input")
		require.NoError(t, err)
		b, err := enc.Encrypt("same input")
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("WrongKeyFails", func(t *testing.T) {
		cipher, err := enc.Encrypt("hello")
		require.NoError(t, err)

		other, err := security.NewEncryptor([]byte("different key"))
		require.NoError(t, err)
		_, err = other.Decrypt(cipher)
		assert.Error(t, err)
	})

	t.Run("EmptyKeyRejected", func(t *testing.T) {
		_, err := security.NewEncryptor(nil)
		assert.Error(t, err)
	})
}

func TestPasswordHasher(t *testing.T) {
	hasher := security.NewPasswordHasher(4)

	hashed, err := hasher.Hash("Password1!")
	require.NoError(t, err)
	assert.NotEqual(t, "Password1!", hashed)

	assert.NoError(t, hasher.Verify("Password1!", hashed))
	assert.Error(t, hasher.Verify("wrong", hashed))
}
