package toolloop

import "testing"

func TestBudget_CountAndReserve(t *testing.T) {
	b, err := NewBudget(100)
	if err != nil {
		t.Fatalf("NewBudget: %v", err)
	}
	n := b.Count("hello world")
	if n <= 0 {
		t.Fatalf("expected positive token count, got %d", n)
	}
	if !b.Reserve(50) {
		t.Fatal("expected room for 50 of 100 tokens")
	}
	if b.Remaining() != 50 {
		t.Fatalf("expected 50 remaining, got %d", b.Remaining())
	}
	if b.Reserve(51) {
		t.Fatal("expected reservation exceeding remaining budget to fail")
	}
}

func TestBudget_TruncateToFit(t *testing.T) {
	b, err := NewBudget(5)
	if err != nil {
		t.Fatalf("NewBudget: %v", err)
	}
	long := "the quick brown fox jumps over the lazy dog and keeps running for a while longer"
	out := b.TruncateToFit(long)
	if out == long {
		t.Fatal("expected truncation for text exceeding the budget")
	}
	if b.Count(out) > 5+1 {
		t.Fatalf("truncated output still too long: %d tokens", b.Count(out))
	}
}

func TestBudget_DefaultLimitWhenUnset(t *testing.T) {
	b, err := NewBudget(0)
	if err != nil {
		t.Fatalf("NewBudget: %v", err)
	}
	if b.Remaining() <= 0 {
		t.Fatal("expected a positive default limit")
	}
}
