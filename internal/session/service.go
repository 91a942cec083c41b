package session

import (
	"context"
	"fmt"

	"github.com/ovaphlow/pitchfork/service-user-management/internal/token"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/user"
	"github.com/ovaphlow/pitchfork/service-user-management/internal/user/entity"
)

// SessionService issues and checks the stateless bearer tokens. Nothing is
// persisted: a token stays valid until it expires.
type SessionService struct {
	users *user.UserService
	codec *token.Codec
}

func NewSessionService(users *user.UserService, codec *token.Codec) *SessionService {
	return &SessionService{users: users, codec: codec}
}

// Login authenticates email/password and issues a token carrying the user's
// id, company and role name.
func (s *SessionService) Login(ctx context.Context, email, password string) (string, *token.Claims, error) {
	v, err := s.users.Authenticate(ctx, email, password)
	if err != nil {
		return "", nil, err
	}
	raw, claims, err := s.codec.Issue(v.ID, v.Company.ID, v.Role.Name)
	if err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}
	return raw, claims, nil
}

// Logout reports who the caller is. There is no server-side revocation.
func (s *SessionService) Logout(ctx context.Context, claims *token.Claims) (*entity.UserView, error) {
	return s.users.Get(ctx, claims.CompanyID, claims.UserID)
}

// Validate verifies a raw token and returns its payload.
func (s *SessionService) Validate(raw string) (*token.Claims, error) {
	return s.codec.Verify(raw)
}
