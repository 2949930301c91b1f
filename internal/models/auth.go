package models

import "github.com/golang-jwt/jwt/v5"

// TokenClaims are the JWT claims carried by admin API tokens issued by the
// platform's auth service.
type TokenClaims struct {
	AdminID string `json:"admin_id"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}
