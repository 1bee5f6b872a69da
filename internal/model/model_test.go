package model

import (
	"testing"
	"time"
)

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"alice@example.com", "alice@example.com", false},
		{"  Alice@Example.COM  ", "alice@example.com", false},
		{"", "", true},
		{"not-an-email", "", true},
		{"two@@example.com", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeEmail(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("NormalizeEmail(%q) = %q, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeEmail(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEntitlementActive(t *testing.T) {
	now := time.Now().UTC()
	e := &Entitlement{ExpiresAt: now.Add(time.Hour)}
	if !e.Active(now) {
		t.Error("entitlement expiring in an hour should be active")
	}
	if e.Active(now.Add(time.Hour)) {
		t.Error("entitlement should be inactive exactly at expiry")
	}
	if e.Active(now.Add(2 * time.Hour)) {
		t.Error("entitlement should be inactive after expiry")
	}
}

func TestEntitlementHasRegion(t *testing.T) {
	e := &Entitlement{Regions: []string{"east", "west"}}
	if !e.HasRegion("east") {
		t.Error("expected east to be covered")
	}
	if e.HasRegion("north") {
		t.Error("expected north to not be covered")
	}
}
