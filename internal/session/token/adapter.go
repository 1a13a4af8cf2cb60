package token

import (
	authmw "govconsent/pkg/platform/middleware/auth"
)

// MiddlewareAdapter exposes Service to the authentication middleware.
type MiddlewareAdapter struct {
	service *Service
}

func NewMiddlewareAdapter(service *Service) *MiddlewareAdapter {
	return &MiddlewareAdapter{service: service}
}

func (a *MiddlewareAdapter) ValidateToken(raw string) (*authmw.JWTClaims, error) {
	claims, err := a.service.Validate(raw)
	if err != nil {
		return nil, err
	}
	return &authmw.JWTClaims{
		IdentityID: claims.Subject,
		JTI:        claims.ID,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}
