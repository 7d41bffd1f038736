package token

import (
	"strings"
	"testing"
	"time"
)

func newTestService() *Service {
	return New("test-secret", 15*time.Minute, 30*24*time.Hour, 24*time.Hour)
}

func TestAccessRoundTrip(t *testing.T) {
	svc := newTestService()
	id := Identity{UserID: 42, Username: "alice", Admin: true, Verified: true}

	at, err := svc.IssueAccess(id)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if at.Token == "" {
		t.Fatal("empty token")
	}

	res := svc.VerifyAccess(at.Token)
	if !res.Valid {
		t.Fatalf("expected valid, got reason=%q", res.Reason)
	}
	if res.Identity != id {
		t.Errorf("identity mismatch: got %+v want %+v", res.Identity, id)
	}
}

func TestAccessImpersonationClaim(t *testing.T) {
	svc := newTestService()
	id := Identity{UserID: 7, Username: "bob", ImpersonatorID: 1}

	at, err := svc.IssueAccess(id)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	res := svc.VerifyAccess(at.Token)
	if !res.Valid {
		t.Fatalf("expected valid, got reason=%q", res.Reason)
	}
	if res.Identity.ImpersonatorID != 1 {
		t.Errorf("ImpersonatorID = %d, want 1", res.Identity.ImpersonatorID)
	}
}

func TestVerifyAccessRejections(t *testing.T) {
	svc := newTestService()
	other := New("other-secret", 15*time.Minute, 30*24*time.Hour, 24*time.Hour)
	expired := New("test-secret", -time.Minute, 30*24*time.Hour, 24*time.Hour)

	good, _ := svc.IssueAccess(Identity{UserID: 1, Username: "a"})
	wrongKey, _ := other.IssueAccess(Identity{UserID: 1, Username: "a"})
	old, _ := expired.IssueAccess(Identity{UserID: 1, Username: "a"})

	// Flipping a signature byte must read as a bad signature, not a parse
	// error.
	tampered := good.Token[:len(good.Token)-2] + "xx"

	tests := []struct {
		name   string
		raw    string
		reason string
	}{
		{"garbage", "not-a-token", ReasonMalformed},
		{"empty", "", ReasonMalformed},
		{"wrong key", wrongKey.Token, ReasonSignature},
		{"tampered", tampered, ReasonSignature},
		{"expired", old.Token, ReasonExpired},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := svc.VerifyAccess(tc.raw)
			if res.Valid {
				t.Fatal("expected invalid")
			}
			if res.Reason != tc.reason {
				t.Errorf("reason = %q, want %q", res.Reason, tc.reason)
			}
		})
	}
}

func TestRefreshRoundTrip(t *testing.T) {
	svc := newTestService()

	rt, err := svc.IssueRefresh(9, true)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if rt.SessionOnly {
		t.Error("stay-logged-in token marked session-only")
	}

	res := svc.VerifyRefresh(rt.Raw)
	if !res.Valid {
		t.Fatalf("expected valid, got reason=%q", res.Reason)
	}
	if res.Identity.UserID != 9 {
		t.Errorf("UserID = %d, want 9", res.Identity.UserID)
	}
	if res.SessionOnly {
		t.Error("SessionOnly = true, want false")
	}
}

func TestRefreshSessionOnlyUsesFallbackTTL(t *testing.T) {
	svc := newTestService()

	rt, err := svc.IssueRefresh(9, false)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if !rt.SessionOnly {
		t.Error("expected session-only")
	}
	// Fallback ceiling is 24h; the long TTL is 30 days.
	if until := time.Until(rt.Exp); until > 25*time.Hour {
		t.Errorf("session-only expiry %v away, want <= 24h", until)
	}
	res := svc.VerifyRefresh(rt.Raw)
	if !res.Valid || !res.SessionOnly {
		t.Errorf("verify = %+v, want valid session-only", res)
	}
}

func TestAccessTokenRejectedAsRefresh(t *testing.T) {
	svc := newTestService()
	at, _ := svc.IssueAccess(Identity{UserID: 3, Username: "c"})

	res := svc.VerifyRefresh(at.Token)
	if res.Valid {
		t.Fatal("access token accepted as refresh")
	}
	if res.Reason != ReasonWrongType {
		t.Errorf("reason = %q, want %q", res.Reason, ReasonWrongType)
	}
}

func TestRefreshTokenRejectedAsAccess(t *testing.T) {
	svc := newTestService()
	rt, _ := svc.IssueRefresh(3, true)

	// A refresh token is signed under the same secret and parses cleanly,
	// so only the typ claim stands between it and a 30-day bearer
	// credential on protected routes.
	res := svc.VerifyAccess(rt.Raw)
	if res.Valid {
		t.Fatal("refresh token accepted as access")
	}
	if res.Reason != ReasonWrongType {
		t.Errorf("reason = %q, want %q", res.Reason, ReasonWrongType)
	}
}

func TestHashRaw(t *testing.T) {
	h1 := HashRaw("token-a")
	h2 := HashRaw("token-a")
	h3 := HashRaw("token-b")

	if h1 != h2 {
		t.Error("hash not deterministic")
	}
	if h1 == h3 {
		t.Error("distinct tokens hash equal")
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(h1))
	}
	if strings.ToLower(h1) != h1 {
		t.Error("hash not lowercase hex")
	}
}
