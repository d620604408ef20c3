package access

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// verificationTTL bounds how long an issued confirmation code stays
// redeemable.
const verificationTTL = 10 * time.Minute

type verificationKey struct {
	actorID      int64
	op           Operation
	collectionID int64
}

type verification struct {
	code      string
	expiresAt time.Time
	used      bool
}

// verificationRegistry holds pending single-use confirmation codes, keyed
// by (actor, operation, collection).
type verificationRegistry struct {
	mu    sync.Mutex
	codes map[verificationKey]*verification
	now   func() time.Time
}

func newVerificationRegistry(now func() time.Time) *verificationRegistry {
	return &verificationRegistry{
		codes: make(map[verificationKey]*verification),
		now:   now,
	}
}

// issue creates a fresh 4-digit code for the triple, replacing any
// previous one.
func (r *verificationRegistry) issue(actorID int64, op Operation, collectionID int64) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", err
	}
	code := fmt.Sprintf("%04d", n.Int64()+1000)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[verificationKey{actorID, op, collectionID}] = &verification{
		code:      code,
		expiresAt: r.now().Add(verificationTTL),
	}
	return code, nil
}

// redeem validates a presented code. A matching code is consumed; the used
// marker is kept until expiry so a replay is distinguishable from a code
// that never existed.
func (r *verificationRegistry) redeem(actorID int64, op Operation, collectionID int64, code string) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := verificationKey{actorID, op, collectionID}
	v, ok := r.codes[key]
	if !ok {
		return deny(ReasonInvalidCode)
	}
	if r.now().After(v.expiresAt) {
		delete(r.codes, key)
		return deny(ReasonExpiredCode)
	}
	if v.used {
		return deny(ReasonCodeAlreadyUsed)
	}
	if v.code != code {
		// A wrong guess burns the code; the flow must be restarted.
		delete(r.codes, key)
		return deny(ReasonInvalidCode)
	}
	v.used = true
	return allow(ReasonVerified)
}

// invalidateUser drops every pending code issued to the user.
func (r *verificationRegistry) invalidateUser(actorID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.codes {
		if key.actorID == actorID {
			delete(r.codes, key)
		}
	}
}
