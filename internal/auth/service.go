package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/vovakirdan/staffchat-server/internal/store"
)

var (
	// ErrInvalidToken is returned when a token fails validation.
	ErrInvalidToken = errors.New("invalid token")
	// ErrUnknownUser is returned when a valid token names a user the directory does not know.
	ErrUnknownUser = errors.New("unknown user")
)

// Identity is the authenticated caller behind a token.
type Identity struct {
	UserID int64
	Name   string
	Role   string
}

// Privileged reports whether the identity may use operational endpoints.
func (i Identity) Privileged() bool {
	return i.Role == RoleAdmin || i.Role == RoleService
}

// Service authenticates tokens presented at handshake and on the API.
type Service struct {
	store     store.UserStore
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service. userStore may be nil, in
// which case the username claim is used as display name.
func NewService(userStore store.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     userStore,
		jwtConfig: jwtConfig,
	}
}

// Authenticate validates a token and resolves the participant it names.
func (s *Service) Authenticate(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	claims, err := ValidateToken(s.jwtConfig, token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	role := claims.Role
	if role == "" {
		role = RoleStaff
	}
	id := Identity{UserID: claims.UserID, Name: claims.Username, Role: role}

	// Service principals are not directory users.
	if s.store == nil || role == RoleService {
		return id, nil
	}

	user, err := s.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Identity{}, ErrUnknownUser
		}
		return Identity{}, fmt.Errorf("lookup user: %w", err)
	}
	if user.DisplayName != "" {
		id.Name = user.DisplayName
	} else {
		id.Name = user.Username
	}
	return id, nil
}

// IssueToken creates a token for tooling and tests.
func (s *Service) IssueToken(userID int64, username, role string) (string, error) {
	return GenerateToken(s.jwtConfig, userID, username, role)
}
