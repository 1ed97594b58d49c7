package bridge

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestKeys(t *testing.T) {
	k := NewKeys("")
	tests := []struct {
		got  string
		want string
	}{
		{k.Bar("s1", "SHFE.ag2406"), "bridge:bar:s1:SHFE.ag2406"},
		{k.State("SHFE.ag2406"), "bridge:state:SHFE.ag2406"},
		{k.Intent("s1"), "bridge:intent:s1"},
		{k.Order("s1", "c-1"), "bridge:order:s1:c-1"},
		{k.StatePattern(), "bridge:state:*"},
		{k.OrderPattern("s1"), "bridge:order:s1:*"},
		{NewKeys("qp").Intent("s1"), "qp:intent:s1"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("key = %q, want %q", tt.got, tt.want)
		}
	}
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewRedisStore(RedisOptions{Addr: mr.Addr(), Timeout: time.Second})
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"redis": func(t *testing.T) Store {
			s, _ := newRedisStore(t)
			return s
		},
	}

	for name, build := range stores {
		t.Run(name, func(t *testing.T) {
			exerciseStore(t, build(t))
		})
	}
}

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	got, err := s.HGetAll(ctx, "bridge:intent:none")
	if err != nil {
		t.Fatalf("HGetAll on missing key failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("HGetAll on missing key = %v, want empty", got)
	}

	key := "bridge:intent:s1"
	if err := s.ReplaceHash(ctx, key, map[string]string{"count": "2", "intent_0": "a", "intent_1": "b"}); err != nil {
		t.Fatalf("ReplaceHash failed: %v", err)
	}
	if err := s.ReplaceHash(ctx, key, map[string]string{"count": "1", "intent_0": "c"}); err != nil {
		t.Fatalf("ReplaceHash failed: %v", err)
	}
	got, err = s.HGetAll(ctx, key)
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}
	want := map[string]string{"count": "1", "intent_0": "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("after replace = %v, want %v (stale intent_1 must be gone)", got, want)
	}

	if err := s.HSet(ctx, "bridge:state:A", map[string]string{"ts_ns": "1"}); err != nil {
		t.Fatalf("HSet failed: %v", err)
	}
	if err := s.HSet(ctx, "bridge:state:A", map[string]string{"trend": "1|1"}); err != nil {
		t.Fatalf("HSet failed: %v", err)
	}
	got, _ = s.HGetAll(ctx, "bridge:state:A")
	if len(got) != 2 {
		t.Errorf("HSet should merge fields, got %v", got)
	}
	s.HSet(ctx, "bridge:state:B", map[string]string{"ts_ns": "1"})

	keys, err := s.Keys(ctx, "bridge:state:*")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"bridge:state:A", "bridge:state:B"}) {
		t.Errorf("Keys = %v, want [bridge:state:A bridge:state:B]", keys)
	}
}

func TestRedisStore_Unreachable(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := s.HGetAll(ctx, "bridge:bar:s1:X"); err == nil {
		t.Error("HGetAll against a closed server should fail")
	}
	if err := s.Ping(ctx); err == nil {
		t.Error("Ping against a closed server should fail")
	}
}

func TestRedisStore_ReplaceIsVisibleToEngine(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	if err := s.ReplaceHash(ctx, "bridge:intent:s1", map[string]string{"count": "1", "intent_0": "x"}); err != nil {
		t.Fatalf("ReplaceHash failed: %v", err)
	}
	if got := mr.HGet("bridge:intent:s1", "intent_0"); got != "x" {
		t.Errorf("server intent_0 = %q, want x", got)
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	s.Close()
	if err := s.Ping(context.Background()); err != ErrStoreClosed {
		t.Errorf("Ping after Close = %v, want ErrStoreClosed", err)
	}
}
