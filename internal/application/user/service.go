package user

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/barterhub/barterhub/internal/domain/user"
)

// Service manages community members.
type Service struct {
	userRepo user.Repository
	logger   zerolog.Logger
}

func NewService(userRepo user.Repository, logger zerolog.Logger) *Service {
	return &Service{
		userRepo: userRepo,
		logger:   logger.With().Str("service", "user").Logger(),
	}
}

// Register creates a member. contact is an optional out-of-band contact
// secret; only its bcrypt hash is stored.
func (s *Service) Register(ctx context.Context, username, displayName, contact string) (*user.User, error) {
	username = user.NormalizeUsername(username)
	if err := user.ValidateUsername(username); err != nil {
		return nil, err
	}
	u := user.NewUser(username, strings.TrimSpace(displayName))
	if contact != "" {
		hash, err := user.HashContact(contact)
		if err != nil {
			return nil, err
		}
		u.ContactHash = hash
	}
	if err := s.userRepo.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user", u.UserID.String()).Str("username", username).Msg("member registered")
	return u, nil
}

// Get returns a member by ID.
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*user.User, error) {
	return s.userRepo.GetByID(ctx, userID)
}

// GetByUsername returns a member by normalized username.
func (s *Service) GetByUsername(ctx context.Context, username string) (*user.User, error) {
	return s.userRepo.GetByUsername(ctx, user.NormalizeUsername(username))
}

// List returns members matching the filter.
func (s *Service) List(ctx context.Context, filter user.Filter, limit, offset int) ([]*user.User, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.userRepo.List(ctx, filter, limit, offset)
}

// SetStatus enables or disables a member. Disabled members keep their
// listings but cannot create new ones.
func (s *Service) SetStatus(ctx context.Context, userID uuid.UUID, status user.Status) (*user.User, error) {
	if err := user.ValidateStatus(status); err != nil {
		return nil, err
	}
	u, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	u.Status = status
	if err := s.userRepo.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// AdjustReputation overwrites a member's reputation score. The engine
// treats the score as externally maintained input to match predicates.
func (s *Service) AdjustReputation(ctx context.Context, userID uuid.UUID, reputation float64) (*user.User, error) {
	u, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	u.Reputation = reputation
	if err := s.userRepo.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// VerifyContact checks a contact secret against the stored hash.
func (s *Service) VerifyContact(ctx context.Context, userID uuid.UUID, contact string) (bool, error) {
	u, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if u.ContactHash == "" {
		return false, nil
	}
	return user.VerifyContact(u.ContactHash, contact), nil
}
