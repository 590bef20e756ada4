package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestEncryptorRoundTrip(t *testing.T) {
	enc, err := NewEncryptor([]byte(testKey))
	require.NoError(t, err)

	sealed, err := enc.Encrypt("app-password")
	require.NoError(t, err)
	require.NotContains(t, sealed, "app-password")

	again, err := enc.Encrypt("app-password")
	require.NoError(t, err)
	require.NotEqual(t, sealed, again, "nonce must differ per call")

	plain, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	require.Equal(t, "app-password", plain)
}

func TestEncryptorRejects(t *testing.T) {
	_, err := NewEncryptor([]byte("short"))
	require.ErrorIs(t, err, ErrInvalidKey)

	enc, err := NewEncryptor([]byte(testKey))
	require.NoError(t, err)

	_, err = enc.Decrypt("AAAA")
	require.ErrorIs(t, err, ErrInvalidCiphertext)

	other, err := NewEncryptor([]byte(strings.Repeat("z", 32)))
	require.NoError(t, err)
	sealed, err := other.Encrypt("secret")
	require.NoError(t, err)
	_, err = enc.Decrypt(sealed)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestNewSealer(t *testing.T) {
	s, err := NewSealer("")
	require.NoError(t, err)
	out, err := s.Encrypt("pw")
	require.NoError(t, err)
	require.Equal(t, "pw", out)

	s, err = NewSealer(testKey)
	require.NoError(t, err)
	require.IsType(t, &Encryptor{}, s)
}
