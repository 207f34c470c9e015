// Package crypto provides authenticated symmetric encryption for PII at rest,
// hashing, and value masking for log redaction.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// KeyStatus reports how the encryption key was provisioned.
type KeyStatus string

const (
	KeyStatusOK KeyStatus = "ok"
	// KeyStatusWarning means no secret key was configured and the built-in
	// fallback is in use. The service still functions but operators should fix
	// the deployment.
	KeyStatusWarning KeyStatus = "warning"
)

// KeyStatusDetail accompanies KeyStatusWarning.
const KeyStatusKeyNotDefined = "key_not_defined"

// fallbackSecret keeps the service functional on misconfigured deployments.
// Data encrypted under it is still authenticated, just not operator-keyed.
const fallbackSecret = "enrollflow-fallback-key-change-me"

var kdfSalt = []byte("enrollflow.pii.v1")

// Encryptor performs AES-256-GCM encryption with a key derived from the
// configured secret.
type Encryptor struct {
	aead     cipher.AEAD
	hmacKey  []byte
	fallback bool
}

// New derives the AES key from secretKey via PBKDF2. An empty secretKey
// selects the fallback key and flips the key status to warning.
func New(secretKey string) (*Encryptor, error) {
	fallback := secretKey == ""
	if fallback {
		secretKey = fallbackSecret
	}

	key := pbkdf2.Key([]byte(secretKey), kdfSalt, 10000, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Encryptor{
		aead:     aead,
		hmacKey:  pbkdf2.Key([]byte(secretKey), kdfSalt, 10000, 32, sha256.New),
		fallback: fallback,
	}, nil
}

// Status reports key provisioning health.
func (e *Encryptor) Status() (KeyStatus, string) {
	if e.fallback {
		return KeyStatusWarning, KeyStatusKeyNotDefined
	}
	return KeyStatusOK, ""
}

// Encrypt returns base64(nonce || ciphertext). A fresh random nonce is drawn
// per call, so identical plaintexts yield distinct ciphertexts. The empty
// string round-trips as the empty string.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any tampered, truncated or otherwise undecryptable
// input yields the empty string; it never returns an error for bad ciphertext.
// Callers must treat "" as "could not decrypt".
func (e *Encryptor) Decrypt(ciphertext string) string {
	if ciphertext == "" {
		return ""
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return ""
	}
	if len(raw) <= e.aead.NonceSize() {
		return ""
	}

	nonce, sealed := raw[:e.aead.NonceSize()], raw[e.aead.NonceSize():]
	plain, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return ""
	}
	return string(plain)
}

// EncryptMap serializes a nested key-value structure through Encrypt,
// preserving structural and type fidelity for arbitrary nesting and mixed
// scalar/array/null/bool/float leaves.
func (e *Encryptor) EncryptMap(data map[string]any) (string, error) {
	if data == nil {
		return "", nil
	}
	serialized, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return e.Encrypt(string(serialized))
}

// DecryptMap reverses EncryptMap. Undecryptable input yields nil.
func (e *Encryptor) DecryptMap(ciphertext string) map[string]any {
	if ciphertext == "" {
		return nil
	}
	plain := e.Decrypt(ciphertext)
	if plain == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(plain), &out); err != nil {
		return nil
	}
	return out
}

// Hash produces a deterministic keyed 256-bit digest as lowercase hex. Used
// for fingerprinting, not for PII storage.
func (e *Encryptor) Hash(data string) string {
	mac := hmac.New(sha256.New, e.hmacKey)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHash compares data against an expected digest in constant time.
func (e *Encryptor) VerifyHash(data, expected string) bool {
	return hmac.Equal([]byte(e.Hash(data)), []byte(expected))
}

// Mask redacts a value for logging, keeping the first visibleStart and last
// visibleEnd characters. A value exactly as long as the visible window is
// returned unchanged; a shorter value is fully masked with its length
// preserved. Log-redaction callers depend on this exact boundary behavior.
func Mask(value string, visibleStart, visibleEnd int) string {
	runes := []rune(value)
	n := len(runes)
	if n == 0 {
		return ""
	}
	if visibleStart < 0 {
		visibleStart = 0
	}
	if visibleEnd < 0 {
		visibleEnd = 0
	}

	visible := visibleStart + visibleEnd
	if n < visible {
		return strings.Repeat("*", n)
	}
	if n == visible {
		return value
	}

	var b strings.Builder
	b.WriteString(string(runes[:visibleStart]))
	b.WriteString(strings.Repeat("*", n-visible))
	b.WriteString(string(runes[n-visibleEnd:]))
	return b.String()
}
