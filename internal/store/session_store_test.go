package store

import (
	"testing"

	"taxpilot/internal/extract"
)

func newOutcome(amount extract.Cents, status string) Outcome {
	return Outcome{
		UserID:   "user-1",
		TaxYear:  2024,
		SlipType: "T4",
		Box:      "14",
		Amount:   amount,
		Status:   status,
	}
}

func TestAppendAndHistory(t *testing.T) {
	s, err := NewSessionStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create session store: %v", err)
	}
	defer s.Close()

	if err := s.Append(newOutcome(500000, StatusVerifiedMatch)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	history, err := s.History("user-1", 2024)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("Expected 1 history entry, got %d", len(history))
	}
	if history[0].Amount != 500000 {
		t.Errorf("Expected amount 500000, got %d", history[0].Amount)
	}
}

// A correction appends a superseding row; history grows, the effective view
// reports the latest value.
func TestCorrectionSupersedes(t *testing.T) {
	s, err := NewSessionStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create session store: %v", err)
	}
	defer s.Close()

	if err := s.Append(newOutcome(500000, StatusVerifiedMatch)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(newOutcome(520000, StatusVerifiedMatch)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	history, err := s.History("user-1", 2024)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 history entries, got %d", len(history))
	}

	latest, err := s.LatestByKey("user-1", 2024)
	if err != nil {
		t.Fatalf("LatestByKey failed: %v", err)
	}
	if len(latest) != 1 {
		t.Fatalf("Expected 1 effective key, got %d", len(latest))
	}
	if latest["T4/14"].Amount != 520000 {
		t.Errorf("Expected latest amount 520000, got %d", latest["T4/14"].Amount)
	}
}

func TestFailedOutcomesStayOutOfEffectiveView(t *testing.T) {
	s, err := NewSessionStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create session store: %v", err)
	}
	defer s.Close()

	if err := s.Append(newOutcome(100, StatusFailed)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(newOutcome(100, StatusVerifiedMismatch)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	latest, err := s.LatestByKey("user-1", 2024)
	if err != nil {
		t.Fatalf("LatestByKey failed: %v", err)
	}
	if len(latest) != 0 {
		t.Errorf("Failed/mismatch outcomes should not appear in effective view, got %d", len(latest))
	}

	history, err := s.History("user-1", 2024)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("All terminal outcomes belong in history, got %d", len(history))
	}
}

func TestRemovalDropsKeyButKeepsLog(t *testing.T) {
	s, err := NewSessionStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create session store: %v", err)
	}
	defer s.Close()

	if err := s.Append(newOutcome(500000, StatusVerifiedMatch)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(newOutcome(500000, StatusRemoved)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	latest, err := s.LatestByKey("user-1", 2024)
	if err != nil {
		t.Fatalf("LatestByKey failed: %v", err)
	}
	if len(latest) != 0 {
		t.Errorf("Removed key should drop from effective view")
	}

	history, err := s.History("user-1", 2024)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("Removal must not shrink history, got %d entries", len(history))
	}
}

func TestLatestOutcomeProbe(t *testing.T) {
	s, err := NewSessionStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create session store: %v", err)
	}
	defer s.Close()

	probe, err := s.LatestOutcome("user-1", 2024, "T4", "14")
	if err != nil {
		t.Fatalf("LatestOutcome failed: %v", err)
	}
	if probe != nil {
		t.Fatal("Expected nil probe for untouched key")
	}

	if err := s.Append(newOutcome(500000, StatusVerifiedMatch)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(newOutcome(520000, StatusVerifiedMatch)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	probe, err = s.LatestOutcome("user-1", 2024, "T4", "14")
	if err != nil {
		t.Fatalf("LatestOutcome failed: %v", err)
	}
	if probe == nil || probe.Amount != 520000 {
		t.Errorf("Expected latest probe amount 520000, got %+v", probe)
	}
}

func TestReturnsAreIsolated(t *testing.T) {
	s, err := NewSessionStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create session store: %v", err)
	}
	defer s.Close()

	o := newOutcome(500000, StatusVerifiedMatch)
	if err := s.Append(o); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	other := o
	other.UserID = "user-2"
	if err := s.Append(other); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	history, err := s.History("user-1", 2024)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("Expected user-scoped history of 1, got %d", len(history))
	}
}
