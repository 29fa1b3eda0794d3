package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisSessionRoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	sessions := NewRedisSessionStore(srv.Addr(), "", time.Minute)

	token, err := sessions.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	uid, ok, err := sessions.GetUserIDByToken(token)
	if err != nil {
		t.Fatalf("get user by token: %v", err)
	}
	if !ok || uid != "user-1" {
		t.Fatalf("expected user-1, got %q ok=%v", uid, ok)
	}

	if err := sessions.DeleteSession(token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, _ := sessions.GetUserIDByToken(token); ok {
		t.Fatalf("deleted session should not resolve")
	}
}

func TestRedisSessionExpires(t *testing.T) {
	srv := miniredis.RunT(t)
	sessions := NewRedisSessionStore(srv.Addr(), "", time.Second)

	token, err := sessions.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	srv.FastForward(2 * time.Second)
	if _, ok, _ := sessions.GetUserIDByToken(token); ok {
		t.Fatalf("expired session should not resolve")
	}
}
