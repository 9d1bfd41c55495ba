package types

import (
	"testing"
	"time"
)

func TestValidRole(t *testing.T) {
	for role, want := range map[string]bool{
		RoleAdmin:    true,
		RoleEmployee: true,
		"admin":      false,
		"":           false,
	} {
		if got := ValidRole(role); got != want {
			t.Fatalf("ValidRole(%q) = %v", role, got)
		}
	}
}

func TestUserPatchEmpty(t *testing.T) {
	if !(UserPatch{}).Empty() {
		t.Fatalf("zero patch should be empty")
	}
	name := "Budi"
	if (UserPatch{Name: &name}).Empty() {
		t.Fatalf("patch with a name is not empty")
	}
}

func TestQRCodeExpired(t *testing.T) {
	issued := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	code := QRCode{ExpiredAt: issued.Add(QRCodeTTL)}

	if code.Expired(issued) {
		t.Fatalf("fresh code reported expired")
	}
	if code.Expired(issued.Add(QRCodeTTL - time.Second)) {
		t.Fatalf("code expired early")
	}
	if !code.Expired(issued.Add(QRCodeTTL)) {
		t.Fatalf("code should expire at its deadline")
	}
}
