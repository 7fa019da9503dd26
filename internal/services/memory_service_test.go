package services

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/alfie-backend/internal/domain"
)

func TestMemory_ResolvePrecedence(t *testing.T) {
	s := &MemoryService{DB: newServiceDB(t)}
	ctx := context.Background()

	must := func(scope, id string, v map[string]string) {
		t.Helper()
		if err := s.Put(ctx, scope, id, v); err != nil {
			t.Fatalf("Put %s: %v", scope, err)
		}
	}
	must(domain.MemoryGlobal, "", map[string]string{"cta": "Learn more", "palette_lock": "false"})
	must(domain.MemoryUser, "u1", map[string]string{"cta": "Shop now", "ratio.text": "1:1"})
	must(domain.MemoryBrand, "b1", map[string]string{"palette_lock": "true"})

	got, err := s.Resolve(ctx, "u1", "b1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got["cta"] != "Shop now" || got["palette_lock"] != "true" || got["ratio.text"] != "1:1" {
		t.Fatalf("unexpected merge: %v", got)
	}

	other, _ := s.Resolve(ctx, "u2", "b2")
	if other["cta"] != "Learn more" || other["palette_lock"] != "false" {
		t.Fatalf("global fallback missing: %v", other)
	}
}

func TestMemory_EmptyValueDeletes(t *testing.T) {
	s := &MemoryService{DB: newServiceDB(t)}
	ctx := context.Background()
	_ = s.Put(ctx, domain.MemoryUser, "u1", map[string]string{"cta": "Go"})
	if err := s.Put(ctx, domain.MemoryUser, "u1", map[string]string{"cta": ""}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, _ := s.Get(ctx, domain.MemoryUser, "u1")
	if _, ok := got["cta"]; ok {
		t.Fatalf("key not deleted: %v", got)
	}
}

func TestMemory_RejectsBadInput(t *testing.T) {
	s := &MemoryService{DB: newServiceDB(t)}
	ctx := context.Background()
	bad := []struct {
		scope, id string
		values    map[string]string
	}{
		{"team", "x", map[string]string{"cta": "a"}},
		{domain.MemoryGlobal, "x", map[string]string{"cta": "a"}},
		{domain.MemoryUser, "", map[string]string{"cta": "a"}},
		{domain.MemoryUser, "u1", map[string]string{"favorite_color": "red"}},
		{domain.MemoryUser, "u1", map[string]string{"palette_lock": "maybe"}},
		{domain.MemoryUser, "u1", map[string]string{"ratio.podcast": "1:1"}},
		{domain.MemoryUser, "u1", map[string]string{"ratio.image": "2:1"}},
	}
	for i, c := range bad {
		if err := s.Put(ctx, c.scope, c.id, c.values); !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}
