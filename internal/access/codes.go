package access

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"

	"github.com/stashkeep/stashkeep/internal/store"
)

// shareCodeAlphabet avoids ambiguous characters (0/O, 1/I).
const shareCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// shareCodeLength is the length of generated share codes.
const shareCodeLength = 8

// GenerateShareCode creates a cryptographically random share code.
func GenerateShareCode() (string, error) {
	buf := make([]byte, shareCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = shareCodeAlphabet[int(b)%len(shareCodeAlphabet)]
	}
	return string(buf), nil
}

// NewShareCode builds a share code record for a collection.
func NewShareCode(collectionID, createdBy int64) (*store.ShareCode, error) {
	code, err := GenerateShareCode()
	if err != nil {
		return nil, err
	}
	return &store.ShareCode{
		ID:           uuid.NewString(),
		CollectionID: collectionID,
		Code:         code,
		CreatedBy:    createdBy,
		CreatedAt:    time.Now().Unix(),
		Active:       true,
	}, nil
}
