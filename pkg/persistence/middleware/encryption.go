package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/limpopo/pkg/domain"
	"github.com/aretw0/limpopo/pkg/ports"
)

// envelopePrefix marks an encrypted answer in storage.
const envelopePrefix = "enc:v1:"

// ErrDecrypt is returned when a stored answer cannot be decrypted.
var ErrDecrypt = errors.New("answer decryption failed")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new answers.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables key rotation without rewriting stored dialogs.
	FallbackKeys [][]byte
}

// Validate checks key sizes.
func (c EncryptionConfig) Validate() error {
	if len(c.ActiveKey) != 32 {
		return fmt.Errorf("%w: active key must be 32 bytes (AES-256), got %d", domain.ErrInvalidSettings, len(c.ActiveKey))
	}
	for i, key := range c.FallbackKeys {
		if len(key) != 32 {
			return fmt.Errorf("%w: fallback key %d must be 32 bytes, got %d", domain.ErrInvalidSettings, i, len(key))
		}
	}
	return nil
}

type encryptionMiddleware struct {
	ports.Storage
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that encrypts answers with AES-GCM
// before they reach storage. Questions stay readable.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return func(next ports.Storage) ports.Storage {
		return &encryptionMiddleware{Storage: next, config: config}
	}, nil
}

func (m *encryptionMiddleware) SaveQuestionAndAnswer(ctx context.Context, dialogID domain.DialogID, step domain.Step) error {
	ciphertext, err := encrypt([]byte(step.Answer), m.config.ActiveKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt answer: %w", err)
	}
	step.Answer = envelopePrefix + base64.StdEncoding.EncodeToString(ciphertext)
	return m.Storage.SaveQuestionAndAnswer(ctx, dialogID, step)
}

func (m *encryptionMiddleware) DialogSteps(ctx context.Context, dialogID domain.DialogID) ([]domain.Step, error) {
	steps, err := m.Storage.DialogSteps(ctx, dialogID)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Step, len(steps))
	for i, step := range steps {
		encoded, ok := strings.CutPrefix(step.Answer, envelopePrefix)
		if !ok {
			// Fail secure: a plain answer means the key configuration changed.
			return nil, fmt.Errorf("%w: dialog %d step %d is not encrypted", ErrDecrypt, dialogID, i)
		}
		ciphertext, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecrypt, err)
		}
		plain, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
		if err != nil {
			return nil, fmt.Errorf("%w: dialog %d: %w", ErrDecrypt, dialogID, err)
		}
		out[i] = domain.Step{Question: step.Question, Answer: string(plain)}
	}
	return out, nil
}

// Retryable never retries decryption failures.
func (m *encryptionMiddleware) Retryable(err error) bool {
	if errors.Is(err, ErrDecrypt) {
		return false
	}
	return m.Storage.Retryable(err)
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}

	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}

	return nil, errors.New("no configured key opens the answer")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}
