package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEncryptor(t *testing.T) *Encryptor {
	t.Helper()
	enc, err := New("test-secret-key")
	require.NoError(t, err)
	return enc
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc := newTestEncryptor(t)

	cases := []string{
		"hello world",
		"1234567890",
		"ünïcodé ✓ 数据",
		"line\nbreaks\tand\ttabs",
		"with\x00null\x00bytes",
		strings.Repeat("x", 10000),
	}
	for _, plain := range cases {
		ct, err := enc.Encrypt(plain)
		require.NoError(t, err)
		require.NotEqual(t, plain, ct)
		assert.Equal(t, plain, enc.Decrypt(ct))
	}
}

func TestEncryptEmptyString(t *testing.T) {
	enc := newTestEncryptor(t)

	ct, err := enc.Encrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", ct)
	assert.Equal(t, "", enc.Decrypt(""))
}

func TestEncryptFreshNoncePerCall(t *testing.T) {
	enc := newTestEncryptor(t)

	first, err := enc.Encrypt("same plaintext")
	require.NoError(t, err)
	second, err := enc.Encrypt("same plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, "same plaintext", enc.Decrypt(first))
	assert.Equal(t, "same plaintext", enc.Decrypt(second))
}

func TestDecryptGarbageReturnsEmpty(t *testing.T) {
	enc := newTestEncryptor(t)

	assert.Equal(t, "", enc.Decrypt("not base64 at all!!!"))
	assert.Equal(t, "", enc.Decrypt("aGVsbG8="))

	ct, err := enc.Encrypt("sensitive")
	require.NoError(t, err)
	tampered := ct[:len(ct)-4] + "AAAA"
	assert.Equal(t, "", enc.Decrypt(tampered))
}

func TestDecryptWrongKeyReturnsEmpty(t *testing.T) {
	enc := newTestEncryptor(t)
	other, err := New("a different secret")
	require.NoError(t, err)

	ct, err := enc.Encrypt("sensitive")
	require.NoError(t, err)
	assert.Equal(t, "", other.Decrypt(ct))
}

func TestEncryptMapRoundTrip(t *testing.T) {
	enc := newTestEncryptor(t)

	data := map[string]any{
		"name":  "Pat Smith",
		"count": float64(3),
		"flags": map[string]any{"demo": true, "note": nil},
		"tags":  []any{"a", "b"},
	}
	ct, err := enc.EncryptMap(data)
	require.NoError(t, err)

	got := enc.DecryptMap(ct)
	assert.Equal(t, data, got)
}

func TestDecryptMapGarbage(t *testing.T) {
	enc := newTestEncryptor(t)

	assert.Nil(t, enc.DecryptMap(""))
	assert.Nil(t, enc.DecryptMap("garbage"))
}

func TestFallbackKeyStatus(t *testing.T) {
	enc, err := New("")
	require.NoError(t, err)

	status, detail := enc.Status()
	assert.Equal(t, KeyStatusWarning, status)
	assert.Equal(t, KeyStatusKeyNotDefined, detail)

	ct, err := enc.Encrypt("still works")
	require.NoError(t, err)
	assert.Equal(t, "still works", enc.Decrypt(ct))

	configured := newTestEncryptor(t)
	status, detail = configured.Status()
	assert.Equal(t, KeyStatusOK, status)
	assert.Equal(t, "", detail)
}

func TestHashAndVerify(t *testing.T) {
	enc := newTestEncryptor(t)

	digest := enc.Hash("session-abc")
	assert.Len(t, digest, 64)
	assert.Equal(t, strings.ToLower(digest), digest)
	assert.Equal(t, digest, enc.Hash("session-abc"))

	assert.True(t, enc.VerifyHash("session-abc", digest))
	assert.False(t, enc.VerifyHash("session-abd", digest))
	assert.False(t, enc.VerifyHash("session-abc", digest[:63]+"0"))

	other, err := New("a different secret")
	require.NoError(t, err)
	assert.NotEqual(t, digest, other.Hash("session-abc"))
}

func TestMask(t *testing.T) {
	cases := []struct {
		name       string
		value      string
		start, end int
		want       string
	}{
		{"account tail", "1234567890", 0, 4, "******7890"},
		{"both ends", "1234567890", 2, 2, "12******90"},
		{"shorter than window", "123", 2, 2, "***"},
		{"exactly the window", "1234", 2, 2, "1234"},
		{"empty", "", 2, 2, ""},
		{"negative treated as zero", "secret", -1, -1, "******"},
		{"multibyte", "数据保护测试", 1, 1, "数****试"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Mask(tc.value, tc.start, tc.end))
		})
	}
}
