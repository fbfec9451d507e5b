package user

import "testing"

func TestValidateUsername(t *testing.T) {
	ok := []string{"alice1", "alice_01", "a1234", "john-doe", "alice.dev"}
	for _, v := range ok {
		if err := ValidateUsername(v); err != nil {
			t.Fatalf("expected valid username %q: %v", v, err)
		}
	}
	bad := []string{"", "1alice", "a", "ab", "a_", "a..", "a*", "toolongusername_over_32_chars_abc"}
	for _, v := range bad {
		if err := ValidateUsername(v); err == nil {
			t.Fatalf("expected invalid username %q", v)
		}
	}
}

func TestContactHashRoundTrip(t *testing.T) {
	hash, err := HashContact("alice@example.org")
	if err != nil {
		t.Fatalf("hash contact: %v", err)
	}
	if !VerifyContact(hash, "alice@example.org") {
		t.Fatalf("expected contact to verify against its own hash")
	}
	if VerifyContact(hash, "bob@example.org") {
		t.Fatalf("expected mismatched contact to fail verification")
	}
	if VerifyContact("", "alice@example.org") || VerifyContact(hash, "") {
		t.Fatalf("expected empty hash or contact to fail verification")
	}
}

func TestNewUserDefaults(t *testing.T) {
	u := NewUser("  Alice1 ", "Alice")
	if u.Username != "alice1" {
		t.Fatalf("expected normalized username, got %q", u.Username)
	}
	if !u.IsActive() {
		t.Fatalf("expected new user to be active")
	}
	if u.CreatedAt.IsZero() || !u.CreatedAt.Equal(u.UpdatedAt) {
		t.Fatalf("expected creation and update timestamps to be set together")
	}
}
