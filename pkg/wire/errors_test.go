package wire

import "testing"

func TestErrorFrameRoundTrip(t *testing.T) {
	e := NewError(ErrorNotFound, "chunk not found")
	f := ErrorFrame("latch:key:abc", 3, e)

	if !IsErrorFrame(f) {
		t.Fatal("expected error frame")
	}
	got, err := ExtractError(f)
	if err != nil {
		t.Fatalf("ExtractError: %v", err)
	}
	if got.Code != ErrorNotFound || got.Reason != "chunk not found" {
		t.Fatalf("unexpected error body: %+v", got)
	}
}

func TestExtractErrorRejectsNonErrorFrame(t *testing.T) {
	f := NewListCommitsFrame("latch:key:abc", 1)
	if _, err := ExtractError(f); err == nil {
		t.Fatal("expected ExtractError to reject a non-error frame")
	}
}

func TestErrorWithRetryIsRetryable(t *testing.T) {
	e := NewErrorWithRetry(ErrorRateLimit, "slow down", 5)
	if !e.IsRetryable() {
		t.Fatal("expected retryable error")
	}
	if e.Error() == "" {
		t.Fatal("expected non-empty error string")
	}
}
