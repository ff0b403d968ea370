package trace_test

import (
	"context"
	"strings"
	"testing"

	"github.com/bdobrica/Dengon/common/trace"
)

func TestGenerateID_UniqueAndPrefixed(t *testing.T) {
	a := trace.GenerateID()
	b := trace.GenerateID()
	if a == b {
		t.Fatalf("expected unique IDs, got %q twice", a)
	}
	if !strings.HasPrefix(a, "t_") {
		t.Fatalf("expected t_ prefix, got %q", a)
	}
}

func TestFromContext_RoundTrip(t *testing.T) {
	ctx := trace.WithTraceID(context.Background(), "t_abc")
	if got := trace.FromContext(ctx); got != "t_abc" {
		t.Fatalf("expected t_abc, got %q", got)
	}
}

func TestFromContext_AbsentReturnsEmpty(t *testing.T) {
	if got := trace.FromContext(context.Background()); got != "" {
		t.Fatalf("expected empty trace ID, got %q", got)
	}
}

func TestEnsure(t *testing.T) {
	ctx, id := trace.Ensure(context.Background())
	if id == "" {
		t.Fatal("expected a generated trace ID")
	}
	if got := trace.FromContext(ctx); got != id {
		t.Fatalf("context carries %q, want %q", got, id)
	}

	ctx2, id2 := trace.Ensure(ctx)
	if id2 != id {
		t.Fatalf("Ensure replaced existing ID: got %q, want %q", id2, id)
	}
	if ctx2 != ctx {
		t.Fatal("Ensure allocated a new context for an already-traced one")
	}
}
