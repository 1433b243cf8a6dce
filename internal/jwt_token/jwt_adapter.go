package jwttoken

import (
	"privata/internal/platform/middleware"
)

// JWTServiceAdapter satisfies middleware.JWTValidator.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

// ValidateToken flattens the scope claim so handlers can check scopes
// without knowing the token format.
func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*middleware.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	out := middleware.JWTClaims{Subject: claims.Subject, JTI: claims.ID}
	out.Scopes = claims.Scopes()
	return &out, nil
}
