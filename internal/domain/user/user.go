package user

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrNotFound is returned for unknown members.
var ErrNotFound = errors.New("user not found")

// Status represents member status.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusDisabled Status = "DISABLED"
)

// User represents a community member who offers and wants listings.
// Reputation is an opaque score maintained by an external trust system;
// the engine only reads it.
type User struct {
	ID          int64     `json:"id"`
	UserID      uuid.UUID `json:"userId"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	ContactHash string    `json:"-"`
	Reputation  float64   `json:"reputation"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewUser creates an active member with a fresh identifier.
func NewUser(username, displayName string) *User {
	now := time.Now().UTC()
	return &User{
		UserID:      uuid.New(),
		Username:    NormalizeUsername(username),
		DisplayName: displayName,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (u *User) IsActive() bool {
	return u.Status == StatusActive
}

func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._-]{2,30}[A-Za-z0-9]$`)

func ValidateUsername(username string) error {
	if username == "" {
		return errors.New("username is required")
	}
	if !usernamePattern.MatchString(username) {
		return errors.New("username must be 4-32 chars, start with a letter, and contain only letters, digits, '.', '_' or '-'")
	}
	return nil
}

// HashContact hashes a member's private contact detail (phone, email)
// before it is stored. The engine never needs the plaintext; it is only
// compared when the surrounding application verifies a member.
func HashContact(contact string) (string, error) {
	if contact == "" {
		return "", errors.New("contact is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(contact), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func VerifyContact(hash string, contact string) bool {
	if hash == "" || contact == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(contact)) == nil
}

func ValidateStatus(status Status) error {
	switch status {
	case StatusActive, StatusDisabled:
		return nil
	default:
		return errors.New("invalid user status")
	}
}
