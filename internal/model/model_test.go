package model_test

import (
	"testing"

	"mediamill/internal/model"
)

func TestValidTransitions(t *testing.T) {
	allowed := []struct{ from, to string }{
		{model.StatusPending, model.StatusRunning},
		{model.StatusPending, model.StatusFailed},
		{model.StatusPending, model.StatusSucceeded},
		{model.StatusRunning, model.StatusSucceeded},
		{model.StatusRunning, model.StatusFailed},
	}
	for _, tr := range allowed {
		if !model.ValidTransition(tr.from, tr.to) {
			t.Errorf("ValidTransition(%q, %q) = false, want true", tr.from, tr.to)
		}
	}

	denied := []struct{ from, to string }{
		{model.StatusSucceeded, model.StatusRunning},
		{model.StatusSucceeded, model.StatusFailed},
		{model.StatusFailed, model.StatusRunning},
		{model.StatusFailed, model.StatusSucceeded},
		{model.StatusFailed, model.StatusPending},
		{model.StatusRunning, model.StatusPending},
		{model.StatusRunning, model.StatusRunning},
	}
	for _, tr := range denied {
		if model.ValidTransition(tr.from, tr.to) {
			t.Errorf("ValidTransition(%q, %q) = true, want false", tr.from, tr.to)
		}
	}
}

func TestTerminal(t *testing.T) {
	if model.Terminal(model.StatusPending) || model.Terminal(model.StatusRunning) {
		t.Error("pending/running should not be terminal")
	}
	if !model.Terminal(model.StatusSucceeded) || !model.Terminal(model.StatusFailed) {
		t.Error("succeeded/failed should be terminal")
	}
}

func TestValidKind(t *testing.T) {
	for _, k := range model.Kinds {
		if !model.ValidKind(k) {
			t.Errorf("ValidKind(%q) = false, want true", k)
		}
	}
	if model.ValidKind("resize") {
		t.Error("ValidKind(resize) = true, want false")
	}
	if model.ValidKind("") {
		t.Error("ValidKind(empty) = true, want false")
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := model.NewID()
		if len(id) != 26 {
			t.Fatalf("ID length = %d, want 26", len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}
