package keying

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeying_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext string
	}{
		{name: "Short message", plaintext: "Hello world"},
		{name: "Empty message", plaintext: ""},
		{name: "Unicode message", plaintext: "ahoj, světe 🙂"},
		{name: "Long message", plaintext: string(make([]byte, 64*1024))},
	}

	key, err := GenerateKey()
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Encrypt([]byte(tt.plaintext), key)
			require.NoError(t, err)
			assert.Len(t, env.IV, IVSize)
			assert.Len(t, env.AuthTag, AuthTagSize)

			plain, err := Decrypt(env.Ciphertext, env.IV, env.AuthTag, key)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, string(plain))
		})
	}
}

func TestKeying_TamperDetection(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	env, err := Encrypt([]byte("the quick brown fox"), key)
	require.NoError(t, err)

	flip := func(b []byte, i int) []byte {
		out := append([]byte(nil), b...)
		out[i] ^= 0x01
		return out
	}

	tests := []struct {
		name       string
		ciphertext []byte
		iv         []byte
		authTag    []byte
	}{
		{name: "Flipped ciphertext bit", ciphertext: flip(env.Ciphertext, 0), iv: env.IV, authTag: env.AuthTag},
		{name: "Flipped ciphertext tail bit", ciphertext: flip(env.Ciphertext, len(env.Ciphertext)-1), iv: env.IV, authTag: env.AuthTag},
		{name: "Flipped iv bit", ciphertext: env.Ciphertext, iv: flip(env.IV, 3), authTag: env.AuthTag},
		{name: "Flipped tag bit", ciphertext: env.Ciphertext, iv: env.IV, authTag: flip(env.AuthTag, 7)},
		{name: "Truncated tag", ciphertext: env.Ciphertext, iv: env.IV, authTag: env.AuthTag[:8]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decrypt(tt.ciphertext, tt.iv, tt.authTag, key)
			assert.ErrorIs(t, err, ErrAuthentication)
		})
	}
}

func TestKeying_WrongKey(t *testing.T) {
	keyA, _ := GenerateKey()
	keyB, _ := GenerateKey()

	env, err := Encrypt([]byte("secret"), keyA)
	require.NoError(t, err)

	_, err = Decrypt(env.Ciphertext, env.IV, env.AuthTag, keyB)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestKeying_IVUniqueness(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		env, err := Encrypt([]byte("x"), key)
		require.NoError(t, err)

		iv := hex.EncodeToString(env.IV)
		_, dup := seen[iv]
		require.False(t, dup, "iv repeated after %d encryptions", i)
		seen[iv] = struct{}{}
	}
}

func TestKeying_KeySizeEnforced(t *testing.T) {
	_, err := Encrypt([]byte("x"), make([]byte, 16))
	assert.Error(t, err)

	_, err = Decrypt([]byte("x"), make([]byte, IVSize), make([]byte, AuthTagSize), make([]byte, 16))
	assert.Error(t, err)
}

func TestKeying_DeriveKeyDeterministic(t *testing.T) {
	k1, err := DeriveKey("correct horse battery staple", "salt-1")
	require.NoError(t, err)
	k2, err := DeriveKey("correct horse battery staple", "salt-1")
	require.NoError(t, err)
	k3, err := DeriveKey("correct horse battery staple", "salt-2")
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, k1, KeySize)
}
