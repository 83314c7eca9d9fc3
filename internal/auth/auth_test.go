package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kalambet/crmpilot/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestIssueAndVerify(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	token, expires, err := IssueToken(ctx, store, "u1", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if token == "" || !expires.After(time.Now()) {
		t.Fatalf("token=%q expires=%v", token, expires)
	}

	v := NewStoreVerifier(store)
	userID, err := v.Verify(ctx, token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if userID != "u1" {
		t.Errorf("userID = %q", userID)
	}

	if _, err := v.Verify(ctx, token+"x"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("tampered token: err = %v", err)
	}
	if _, err := v.Verify(ctx, ""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("empty token: err = %v", err)
	}
}

func TestVerify_ExpiredSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	token, _, err := IssueToken(ctx, store, "u1", -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := NewStoreVerifier(store).Verify(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestIssueToken_RequiresUser(t *testing.T) {
	if _, _, err := IssueToken(context.Background(), openTestStore(t), " ", time.Hour); err == nil {
		t.Error("expected error for blank user")
	}
}

func TestHashToken(t *testing.T) {
	// sha256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := HashToken("abc"); got != want {
		t.Errorf("HashToken = %s", got)
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		cookie string
		want   string
	}{
		{"bearer", "Bearer tok1", "", "tok1"},
		{"lowercase scheme", "bearer tok2", "", "tok2"},
		{"cookie", "", "tok3", "tok3"},
		{"header wins", "Bearer tok4", "tok5", "tok4"},
		{"basic scheme", "Basic dXNlcjpwYXNz", "tok6", ""},
		{"none", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: tt.cookie})
			}
			if got := TokenFromRequest(r, ""); got != tt.want {
				t.Errorf("token = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUserContext(t *testing.T) {
	if _, ok := UserFrom(context.Background()); ok {
		t.Error("empty context should have no user")
	}
	id, ok := UserFrom(WithUser(context.Background(), "u9"))
	if !ok || id != "u9" {
		t.Errorf("UserFrom = %q, %v", id, ok)
	}
}

func TestRemoteVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/user" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("apikey") != "anon" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			w.Write([]byte(`{"id":"user-123","email":"a@b.c"}`))
		case "Bearer forbidden":
			w.WriteHeader(http.StatusForbidden)
		case "Bearer broken":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("boom"))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	v := NewRemoteVerifier(srv.URL+"/", "anon")
	ctx := context.Background()

	id, err := v.Verify(ctx, "good")
	if err != nil || id != "user-123" {
		t.Fatalf("Verify(good) = %q, %v", id, err)
	}
	for _, tok := range []string{"bad", "forbidden", ""} {
		if _, err := v.Verify(ctx, tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify(%q) err = %v, want ErrInvalidToken", tok, err)
		}
	}
	if _, err := v.Verify(ctx, "broken"); err == nil || errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify(broken) err = %v, want upstream error", err)
	}
}
