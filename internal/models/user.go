package models

import (
	"github.com/dgrijalva/jwt-go"
)

// Claims is the JWT payload issued by the auth collaborator. The payment core
// only verifies it; it never issues tokens.
type Claims struct {
	UserID uint   `json:"user_id"`
	Role   string `json:"role"`
	jwt.StandardClaims
}
