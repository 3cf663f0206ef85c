package crypto

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestNewSecretBox(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"raw 32 bytes", testKey, false},
		{"hex 64 chars", hex.EncodeToString([]byte(testKey)), false},
		{"too short", "short", true},
		{"empty", "", true},
		{"64 non-hex", strings.Repeat("z", 64), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			box, err := NewSecretBox(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKeySize)
				assert.Nil(t, box)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, box)
		})
	}
}

func TestSecretBox_SealOpen(t *testing.T) {
	box, err := NewSecretBox(testKey)
	require.NoError(t, err)

	for _, plaintext := range []string{"sk-proj-abc123", "中文密钥", strings.Repeat("x", 4096)} {
		sealed, err := box.Seal(plaintext)
		require.NoError(t, err)
		assert.True(t, IsSealed(sealed))
		assert.NotContains(t, sealed, plaintext)

		opened, err := box.Open(sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)
	}

	sealed, err := box.Seal("")
	require.NoError(t, err)
	assert.Empty(t, sealed)
}

func TestSecretBox_Randomness(t *testing.T) {
	box, err := NewSecretBox(testKey)
	require.NoError(t, err)

	a, _ := box.Seal("same")
	b, _ := box.Seal("same")
	assert.NotEqual(t, a, b)
}

func TestSecretBox_OpenErrors(t *testing.T) {
	box, err := NewSecretBox(testKey)
	require.NoError(t, err)

	plain, err := box.Open("sk-plain")
	require.NoError(t, err)
	assert.Equal(t, "sk-plain", plain)

	_, err = box.Open(SealedPrefix + "!!!not-base64")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = box.Open(SealedPrefix + "YWJj")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	other, err := NewSecretBox(strings.Repeat("k", 32))
	require.NoError(t, err)
	sealed, _ := other.Seal("secret")
	_, err = box.Open(sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestOpenValue(t *testing.T) {
	v, err := OpenValue(nil, "sk-plain")
	require.NoError(t, err)
	assert.Equal(t, "sk-plain", v)

	_, err = OpenValue(nil, SealedPrefix+"abc")
	assert.ErrorIs(t, err, ErrNoKey)

	box, _ := NewSecretBox(testKey)
	sealed, _ := box.Seal("sk-secret")
	v, err = OpenValue(box, sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", v)
}

func BenchmarkSecretBox_Seal(b *testing.B) {
	box, _ := NewSecretBox(testKey)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = box.Seal("sk-proj-abcdefghijklmnopqrstuvwxyz")
	}
}
