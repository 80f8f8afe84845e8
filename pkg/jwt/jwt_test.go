package jwt

import (
	"testing"
	"time"
)

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken("user-123", 15*time.Minute, "test-secret-key-32-characters!")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if token == "" {
		t.Error("GenerateToken() returned empty token")
	}
	if len(token) < 100 {
		t.Errorf("GenerateToken() token too short, len = %d", len(token))
	}
}

func TestValidateToken(t *testing.T) {
	userID := "test-user-id"
	secret := "validation-secret-key-32-chars"

	validToken, _ := GenerateToken(userID, time.Hour, secret)
	expiredToken, _ := GenerateToken(userID, -time.Hour, secret)

	tests := []struct {
		name    string
		token   string
		secret  string
		wantErr bool
	}{
		{"valid token", validToken, secret, false},
		{"expired token", expiredToken, secret, true},
		{"wrong secret", validToken, "wrong-secret", true},
		{"garbage token", "invalid.token.format", secret, true},
		{"empty token", "", secret, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ValidateToken(tt.token, tt.secret)
			if tt.wantErr {
				if err == nil {
					t.Error("ValidateToken() expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateToken() error = %v", err)
			}
			if claims.UserID != userID {
				t.Errorf("userID = %v, want %v", claims.UserID, userID)
			}
		})
	}
}

func TestRefreshTokenType(t *testing.T) {
	secret := "refresh-secret-key"
	token, err := GenerateRefreshToken("user-1", 7*24*time.Hour, secret)
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}

	claims, err := ValidateToken(token, secret)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.TokenType != "refresh" {
		t.Errorf("token type = %q, want refresh", claims.TokenType)
	}
}

func TestClaimsTimestamps(t *testing.T) {
	secret := "timestamp-test-secret"
	expiration := time.Hour

	before := time.Now().Add(-time.Second)
	token, err := GenerateToken("user-1", expiration, secret)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	after := time.Now().Add(time.Second)

	claims, err := ValidateToken(token, secret)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}

	if issued := claims.IssuedAt.Time; issued.Before(before) || issued.After(after) {
		t.Errorf("IssuedAt = %v, want within [%v, %v]", issued, before, after)
	}
	if exp := claims.ExpiresAt.Time; exp.Before(before.Add(expiration)) || exp.After(after.Add(expiration)) {
		t.Errorf("ExpiresAt = %v out of range", exp)
	}
}
