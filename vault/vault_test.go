package vault

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ciphers(t *testing.T) map[string]Cipher {
	t.Helper()
	out := map[string]Cipher{}
	for _, alg := range []string{"aes-gcm", "chacha20poly1305"} {
		c, err := New(alg, "correct horse battery staple", []byte("meshledger-salt"))
		require.NoError(t, err)
		out[alg] = c
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	for name, c := range ciphers(t) {
		t.Run(name, func(t *testing.T) {
			for _, plaintext := range [][]byte{
				{},
				[]byte("a"),
				[]byte(`{"kind":"transaction","amount":"9500"}`),
				bytes.Repeat([]byte{0xAB}, 4096),
			} {
				sealed, err := c.Encrypt(plaintext)
				require.NoError(t, err)
				opened, err := c.Decrypt(sealed)
				require.NoError(t, err)
				assert.Equal(t, plaintext, opened)
			}
		})
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	for name, c := range ciphers(t) {
		t.Run(name, func(t *testing.T) {
			a, err := c.Encrypt([]byte("same"))
			require.NoError(t, err)
			b, err := c.Encrypt([]byte("same"))
			require.NoError(t, err)
			assert.NotEqual(t, a, b)
		})
	}
}

func TestTamperDetection(t *testing.T) {
	for name, c := range ciphers(t) {
		t.Run(name, func(t *testing.T) {
			sealed, err := c.Encrypt([]byte("transfer 100"))
			require.NoError(t, err)
			for i := range sealed {
				forged := append([]byte{}, sealed...)
				forged[i] ^= 0x01
				_, err := c.Decrypt(forged)
				assert.ErrorIs(t, err, ErrDecrypt, "flipping byte %d", i)
			}
			_, err = c.Decrypt(sealed[:5])
			assert.ErrorIs(t, err, ErrDecrypt)
		})
	}
}

func TestWrongKeyFails(t *testing.T) {
	a, err := New("aes-gcm", "alpha", []byte("salt"))
	require.NoError(t, err)
	b, err := New("aes-gcm", "bravo", []byte("salt"))
	require.NoError(t, err)

	sealed, err := a.Encrypt([]byte("secret"))
	require.NoError(t, err)
	_, err = b.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New("aes-gcm", "", nil)
	assert.Error(t, err)
	_, err = New("rot13", "pass", nil)
	assert.Error(t, err)
	_, err = NewAESGCM(make([]byte, 16))
	assert.Error(t, err)
}

func TestDeriveKeyDeterministic(t *testing.T) {
	k1 := DeriveKey("pass", []byte("salt"))
	k2 := DeriveKey("pass", []byte("salt"))
	k3 := DeriveKey("pass", []byte("pepper"))
	assert.Len(t, k1, KeySize)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}
