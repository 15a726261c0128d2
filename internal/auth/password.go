package auth

import (
	"errors"
	"fmt"

	"github.com/lalith-99/ordersvc/internal/apperr"
	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is the longest password bcrypt accepts. Longer input is
// rejected rather than silently truncated.
const MaxPasswordBytes = 72

// Hasher hashes and checks passwords. Compare returns a non-nil error for
// any mismatch or malformed hash.
type Hasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// BcryptHasher is a salted, cost-factored hasher.
//
// Hashing at the default cost takes tens of milliseconds of CPU. Gin runs
// each request on its own goroutine, so this never blocks other requests.
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher returns a hasher at cost, or bcrypt.DefaultCost when cost
// is zero.
func NewBcryptHasher(cost int) BcryptHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return BcryptHasher{Cost: cost}
}

// Hash fails with bcrypt.ErrPasswordTooLong past MaxPasswordBytes.
func (h BcryptHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// Compare returns bcrypt.ErrMismatchedHashAndPassword on a wrong password.
func (h BcryptHasher) Compare(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// hashFailure maps a Hash error to a client error when the password itself
// is unacceptable, and wraps it as an internal failure otherwise.
func hashFailure(op string, err error) error {
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return apperr.New(apperr.KindValidation,
			fmt.Sprintf("password must be at most %d bytes", MaxPasswordBytes))
	}
	return fmt.Errorf("%s: %w", op, err)
}
