package idempotency

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/avridge/accountd/internal/model"
	"github.com/avridge/accountd/internal/repository"
)

// memStore is an in-memory Store honoring the unique-tuple contract.
type memStore struct {
	nextID uint64
	rows   map[string]*model.IdempotencyRecord
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]*model.IdempotencyRecord)}
}

func tupleKey(key, endpoint, caller string) string {
	return key + "\x00" + endpoint + "\x00" + caller
}

func (m *memStore) Claim(ctx context.Context, key, endpoint, caller string, exp time.Time) (uint64, error) {
	k := tupleKey(key, endpoint, caller)
	if _, ok := m.rows[k]; ok {
		return 0, repository.ErrDuplicate
	}
	m.nextID++
	m.rows[k] = &model.IdempotencyRecord{
		ID: m.nextID, Key: key, Endpoint: endpoint, Caller: caller,
		ExpiresAt: exp, CreatedAt: time.Now().UTC(),
	}
	return m.nextID, nil
}

func (m *memStore) Get(ctx context.Context, key, endpoint, caller string) (model.IdempotencyRecord, error) {
	rec, ok := m.rows[tupleKey(key, endpoint, caller)]
	if !ok || !rec.ExpiresAt.After(time.Now().UTC()) {
		return model.IdempotencyRecord{}, repository.ErrNotFound
	}
	return *rec, nil
}

func (m *memStore) Complete(ctx context.Context, id uint64, status int, contentType string, body []byte) error {
	for _, rec := range m.rows {
		if rec.ID == id && rec.Status == 0 {
			now := time.Now().UTC()
			rec.Status = status
			rec.ContentType = contentType
			rec.Body = body
			rec.CompletedAt = &now
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memStore) Release(ctx context.Context, id uint64) error {
	for k, rec := range m.rows {
		if rec.ID == id && rec.Status == 0 {
			delete(m.rows, k)
			return nil
		}
	}
	return nil
}

func (m *memStore) DeleteExpired(ctx context.Context, key, endpoint, caller string, now time.Time) error {
	k := tupleKey(key, endpoint, caller)
	if rec, ok := m.rows[k]; ok && !rec.ExpiresAt.After(now) {
		delete(m.rows, k)
	}
	return nil
}

func (m *memStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for k, rec := range m.rows {
		if !rec.ExpiresAt.After(now) {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}

const (
	testKey      = "client-key-0001"
	testEndpoint = "POST /v1/auth/register"
	testCaller   = "anon"
)

func TestBeginFreshClaim(t *testing.T) {
	svc := New(newMemStore(), time.Hour)

	out, err := svc.Begin(context.Background(), testKey, testEndpoint, testCaller)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if out.Hit {
		t.Fatal("fresh tuple reported as hit")
	}
}

func TestBeginRejectsBadKeys(t *testing.T) {
	svc := New(newMemStore(), time.Hour)

	for _, key := range []string{"", "short", "has spaces in it", "bad/slash-key", string(make([]byte, 300))} {
		if _, err := svc.Begin(context.Background(), key, testEndpoint, testCaller); err != ErrBadKey {
			t.Errorf("Begin(%q) err = %v, want ErrBadKey", key, err)
		}
	}
}

func TestValidKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"abcd1234", true},
		{"A-b_c.d~0123", true},
		{"abc1234", false},   // 7 chars
		{"", false},
		{"with space", false},
		{"percent%sign", false},
	}
	for _, tc := range tests {
		if got := ValidKey(tc.key); got != tc.want {
			t.Errorf("ValidKey(%q) = %v, want %v", tc.key, got, tc.want)
		}
	}
}

func TestCompletedTupleReplays(t *testing.T) {
	svc := New(newMemStore(), time.Hour)
	ctx := context.Background()

	out, err := svc.Begin(ctx, testKey, testEndpoint, testCaller)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	body := []byte(`{"user":{"id":1}}`)
	if err := svc.Complete(ctx, out.Ticket, 201, "application/json; charset=UTF-8", body); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	replay, err := svc.Begin(ctx, testKey, testEndpoint, testCaller)
	if err != nil {
		t.Fatalf("Begin replay: %v", err)
	}
	if !replay.Hit {
		t.Fatal("completed tuple did not replay")
	}
	if replay.Status != 201 || !bytes.Equal(replay.Body, body) {
		t.Errorf("replay = %d %q, want 201 %q", replay.Status, replay.Body, body)
	}
	if replay.ContentType != "application/json; charset=UTF-8" {
		t.Errorf("replay content type = %q, want the stored one", replay.ContentType)
	}
}

func TestPendingTupleIsInFlight(t *testing.T) {
	svc := New(newMemStore(), time.Hour)
	ctx := context.Background()

	if _, err := svc.Begin(ctx, testKey, testEndpoint, testCaller); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := svc.Begin(ctx, testKey, testEndpoint, testCaller); err != ErrInFlight {
		t.Fatalf("second Begin err = %v, want ErrInFlight", err)
	}
}

func TestServerErrorReleasesClaim(t *testing.T) {
	svc := New(newMemStore(), time.Hour)
	ctx := context.Background()

	out, err := svc.Begin(ctx, testKey, testEndpoint, testCaller)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := svc.Complete(ctx, out.Ticket, 503, "application/json", []byte(`{"error":"oops"}`)); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// The 5xx was not cached; the same key claims fresh and can succeed.
	retry, err := svc.Begin(ctx, testKey, testEndpoint, testCaller)
	if err != nil {
		t.Fatalf("Begin retry: %v", err)
	}
	if retry.Hit {
		t.Fatal("5xx outcome was cached")
	}
}

func TestClientErrorIsCached(t *testing.T) {
	svc := New(newMemStore(), time.Hour)
	ctx := context.Background()

	out, _ := svc.Begin(ctx, testKey, testEndpoint, testCaller)
	if err := svc.Complete(ctx, out.Ticket, 409, "application/json", []byte(`{"error":"conflict"}`)); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	replay, err := svc.Begin(ctx, testKey, testEndpoint, testCaller)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if !replay.Hit || replay.Status != 409 {
		t.Fatalf("replay = %+v, want 409 hit", replay)
	}
}

func TestAbandonFreesClaim(t *testing.T) {
	svc := New(newMemStore(), time.Hour)
	ctx := context.Background()

	out, _ := svc.Begin(ctx, testKey, testEndpoint, testCaller)
	if err := svc.Abandon(ctx, out.Ticket); err != nil {
		t.Fatalf("Abandon: %v", err)
	}

	again, err := svc.Begin(ctx, testKey, testEndpoint, testCaller)
	if err != nil {
		t.Fatalf("Begin after abandon: %v", err)
	}
	if again.Hit {
		t.Fatal("abandoned claim replayed")
	}
}

func TestExpiredRowIsReclaimed(t *testing.T) {
	store := newMemStore()
	svc := New(store, time.Hour)
	ctx := context.Background()

	// Plant a completed row that expired an hour ago but still occupies the
	// unique slot.
	id, err := store.Claim(ctx, testKey, testEndpoint, testCaller, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := store.Complete(ctx, id, 200, "text/plain", []byte("stale")); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	out, err := svc.Begin(ctx, testKey, testEndpoint, testCaller)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if out.Hit {
		t.Fatal("expired row replayed instead of being reclaimed")
	}
}

func TestTuplesAreScoped(t *testing.T) {
	svc := New(newMemStore(), time.Hour)
	ctx := context.Background()

	out, _ := svc.Begin(ctx, testKey, testEndpoint, testCaller)
	if err := svc.Complete(ctx, out.Ticket, 200, "text/plain", []byte("a")); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// Same key against another endpoint or caller is a distinct tuple.
	other, err := svc.Begin(ctx, testKey, "PATCH /v1/me", testCaller)
	if err != nil {
		t.Fatalf("Begin other endpoint: %v", err)
	}
	if other.Hit {
		t.Fatal("endpoint not part of the tuple scope")
	}
	byCaller, err := svc.Begin(ctx, testKey, testEndpoint, "user:7")
	if err != nil {
		t.Fatalf("Begin other caller: %v", err)
	}
	if byCaller.Hit {
		t.Fatal("caller not part of the tuple scope")
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	store := newMemStore()
	svc := New(store, time.Hour)
	ctx := context.Background()

	if _, err := store.Claim(ctx, "expired-key-01", testEndpoint, testCaller, time.Now().UTC().Add(-time.Minute)); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := store.Claim(ctx, "live-key-00001", testEndpoint, testCaller, time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	n, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("swept %d rows, want 1", n)
	}
}
