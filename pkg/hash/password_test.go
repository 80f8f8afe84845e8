package hash

import (
	"strings"
	"testing"
)

func TestHash(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid password", "SecurePass123!", false},
		{"minimum length", "Pass123!", false},
		{"too short", "short", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := Hash(tt.password)
			if tt.wantErr {
				if err == nil {
					t.Error("Hash() expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Hash() error = %v", err)
			}
			if h == "" || h == tt.password {
				t.Errorf("Hash() = %q", h)
			}
			if !strings.HasPrefix(h, "$2a$12$") {
				t.Errorf("Hash() unexpected bcrypt format: %s", h[:10])
			}
		})
	}
}

func TestHashSalted(t *testing.T) {
	h1, err := Hash("SamePassword123!")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	h2, err := Hash("SamePassword123!")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if h1 == h2 {
		t.Error("identical hashes for the same password, salt missing")
	}
}

func TestCompare(t *testing.T) {
	password := "MySecurePassword123!"
	h, err := Hash(password)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	if err := Compare(h, password); err != nil {
		t.Errorf("Compare() with correct password: %v", err)
	}
	if err := Compare(h, "WrongPassword"); err == nil {
		t.Error("Compare() accepted wrong password")
	}
	if err := Compare(h, strings.ToUpper(password)); err == nil {
		t.Error("Compare() is not case sensitive")
	}
}
