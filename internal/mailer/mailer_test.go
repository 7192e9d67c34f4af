package mailer

import (
	"testing"
)

func TestValidAddress(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"parent@example.com", true},
		{"first.last@school.edu.hk", true},
		{" parent@example.com ", true},
		{"not-an-email", false},
		{"", false},
		{"missing@tld", false},
		{"@example.com", false},
		{"a b@example.com", false},
	}
	for _, tt := range tests {
		if got := ValidAddress(tt.addr); got != tt.want {
			t.Errorf("ValidAddress(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestUsableCC(t *testing.T) {
	tests := []struct {
		name      string
		cc        string
		recipient string
		want      bool
	}{
		{"real address", "teacher@school.edu.hk", "parent@example.com", true},
		{"empty", "", "parent@example.com", false},
		{"placeholder na", "N/A", "parent@example.com", false},
		{"placeholder nan", "NaN", "parent@example.com", false},
		{"placeholder none", "none", "parent@example.com", false},
		{"no at sign", "teacher", "parent@example.com", false},
		{"same as recipient", "Parent@Example.com", "parent@example.com", false},
		{"whitespace padded", "  teacher@school.edu.hk ", "parent@example.com", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UsableCC(tt.cc, tt.recipient); got != tt.want {
				t.Errorf("UsableCC(%q, %q) = %v, want %v", tt.cc, tt.recipient, got, tt.want)
			}
		})
	}
}

func TestInvalidAddressError(t *testing.T) {
	err := &InvalidAddressError{Addr: "not-an-email"}
	if err.Error() != `invalid email address "not-an-email"` {
		t.Errorf("Error() = %q", err.Error())
	}
}
