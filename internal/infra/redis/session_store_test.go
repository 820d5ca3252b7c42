package redis

import (
	"context"
	"net"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quizroom-service/internal/app"
)

func TestSessionStoreSetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewSessionStore(client, time.Minute, "node-a")

	session := store.GetOrCreate("ABC123", func() *app.Session { return new(app.Session) })
	if !mr.Exists("quiz:session:ABC123") {
		t.Fatalf("expected redis key to be set")
	}
	owner, ok, err := store.Owner(context.Background(), "ABC123")
	if err != nil || !ok || owner != "node-a" {
		t.Fatalf("unexpected owner %q ok=%v err=%v", owner, ok, err)
	}

	store.Remove("ABC123", session)
	if mr.Exists("quiz:session:ABC123") {
		t.Fatalf("expected redis key to be removed")
	}
}

func TestSessionStoreKeepsForeignMarker(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewSessionStore(client, time.Minute, "node-a")

	session := store.GetOrCreate("ABC123", func() *app.Session { return new(app.Session) })
	if err := mr.Set("quiz:session:ABC123", "node-b"); err != nil {
		t.Fatalf("seed marker: %v", err)
	}

	store.Remove("ABC123", session)
	if got, _ := mr.Get("quiz:session:ABC123"); got != "node-b" {
		t.Fatalf("removed another node's marker, got %q", got)
	}
}

func TestSessionStoreRefreshExtendsTTL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewSessionStore(client, time.Minute, "node-a")
	store.GetOrCreate("ABC123", func() *app.Session { return new(app.Session) })

	mr.FastForward(50 * time.Second)
	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if ttl := mr.TTL("quiz:session:ABC123"); ttl != time.Minute {
		t.Fatalf("expected ttl reset, got %v", ttl)
	}
}

func TestSessionStoreDoesNotHoldLockAcrossRedis(t *testing.T) {
	// a server that accepts connections and never answers
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	client := redis.NewClient(&redis.Options{
		Addr:                  ln.Addr().String(),
		MaxRetries:            -1,
		ContextTimeoutEnabled: true,
	})
	defer client.Close()
	store := NewSessionStore(client, time.Minute, "node-a")

	created := make(chan struct{})
	returned := make(chan *app.Session, 1)
	go func() {
		returned <- store.GetOrCreate("ABC123", func() *app.Session {
			close(created)
			return new(app.Session)
		})
	}()
	<-created

	lookup := make(chan bool, 1)
	go func() {
		_, ok := store.Get("ABC123")
		lookup <- ok
	}()
	select {
	case ok := <-lookup:
		if !ok {
			t.Fatalf("expected the session to be visible while the marker write hangs")
		}
	case <-time.After(markerTimeout / 2):
		t.Fatalf("lookup blocked behind the redis write")
	}

	select {
	case session := <-returned:
		if session == nil {
			t.Fatalf("expected a session despite the marker failure")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("GetOrCreate did not give up on the unresponsive redis")
	}
}
