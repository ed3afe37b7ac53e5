// Package crypto seals decision item bodies with per-channel keys.
//
// Each channel gets a random 32-byte key the first time something is sealed
// for it. The key is stored wrapped with the instance master key; bodies are
// sealed with XChaCha20-Poly1305 under the unwrapped channel key.
package crypto

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/stake-plus/govdecisions/src/types"
	"golang.org/x/crypto/chacha20poly1305"
	"gorm.io/gorm"
)

var ErrKeyNotFound = errors.New("channel key not found")

// Sealed is an encrypted body as persisted on a poll.
type Sealed struct {
	Ciphertext []byte
	IV         []byte
	Tag        []byte
	KeyID      string
}

type Sealer interface {
	Seal(ctx context.Context, channelID, plaintext string) (Sealed, error)
	Open(ctx context.Context, s Sealed) (string, error)
}

// ChannelSealer keeps channel keys in the channel_keys table.
type ChannelSealer struct {
	db     *gorm.DB
	master []byte
}

func NewChannelSealer(db *gorm.DB, masterKey []byte) (*ChannelSealer, error) {
	if len(masterKey) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", chacha20poly1305.KeySize, len(masterKey))
	}
	master := make([]byte, len(masterKey))
	copy(master, masterKey)
	return &ChannelSealer{db: db, master: master}, nil
}

func (s *ChannelSealer) Seal(ctx context.Context, channelID, plaintext string) (Sealed, error) {
	keyID, key, err := s.channelKey(ctx, channelID)
	if err != nil {
		return Sealed{}, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return Sealed{}, fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, fmt.Errorf("nonce: %w", err)
	}
	out := aead.Seal(nil, nonce, []byte(plaintext), []byte(keyID))
	split := len(out) - aead.Overhead()
	return Sealed{
		Ciphertext: out[:split],
		IV:         nonce,
		Tag:        out[split:],
		KeyID:      keyID,
	}, nil
}

func (s *ChannelSealer) Open(ctx context.Context, sealed Sealed) (string, error) {
	var row types.ChannelKey
	err := s.db.WithContext(ctx).First(&row, "id = ?", sealed.KeyID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load channel key: %w", err)
	}
	key, err := s.unwrap(row)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	if len(sealed.IV) != aead.NonceSize() {
		return "", fmt.Errorf("bad nonce length %d", len(sealed.IV))
	}
	buf := make([]byte, 0, len(sealed.Ciphertext)+len(sealed.Tag))
	buf = append(buf, sealed.Ciphertext...)
	buf = append(buf, sealed.Tag...)
	plain, err := aead.Open(nil, sealed.IV, buf, []byte(sealed.KeyID))
	if err != nil {
		return "", fmt.Errorf("open body: %w", err)
	}
	return string(plain), nil
}

// channelKey returns the newest key for the channel, creating one if needed.
func (s *ChannelSealer) channelKey(ctx context.Context, channelID string) (string, []byte, error) {
	var row types.ChannelKey
	err := s.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("created_at DESC").
		First(&row).Error
	switch {
	case err == nil:
		key, err := s.unwrap(row)
		return row.ID, key, err
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return "", nil, fmt.Errorf("load channel key: %w", err)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", nil, fmt.Errorf("generate channel key: %w", err)
	}
	row = types.ChannelKey{ChannelID: channelID}
	if row.WrappedKey, row.Nonce, err = s.wrap(channelID, key); err != nil {
		return "", nil, err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", nil, fmt.Errorf("store channel key: %w", err)
	}
	return row.ID, key, nil
}

func (s *ChannelSealer) wrap(channelID string, key []byte) ([]byte, []byte, error) {
	aead, err := chacha20poly1305.NewX(s.master)
	if err != nil {
		return nil, nil, fmt.Errorf("init master cipher: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("nonce: %w", err)
	}
	return aead.Seal(nil, nonce, key, []byte(channelID)), nonce, nil
}

func (s *ChannelSealer) unwrap(row types.ChannelKey) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.master)
	if err != nil {
		return nil, fmt.Errorf("init master cipher: %w", err)
	}
	key, err := aead.Open(nil, row.Nonce, row.WrappedKey, []byte(row.ChannelID))
	if err != nil {
		return nil, fmt.Errorf("unwrap channel key %s: %w", row.ID, err)
	}
	return key, nil
}
