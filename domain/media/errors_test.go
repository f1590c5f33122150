package media

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_IsMatchesByKind(t *testing.T) {
	err := NewError(KindConversionFailed, "convert", "Invalid data found when processing input", errors.New("exit status 1"))
	wrapped := fmt.Errorf("handler: %w", err)

	if !errors.Is(wrapped, ErrConversionFailed) {
		t.Error("errors.Is(wrapped, ErrConversionFailed) = false, want true")
	}
	if errors.Is(wrapped, ErrNotFound) {
		t.Error("errors.Is(wrapped, ErrNotFound) = true, want false")
	}
	if got := KindOf(wrapped); got != KindConversionFailed {
		t.Errorf("KindOf() = %q, want %q", got, KindConversionFailed)
	}
	if got := DetailOf(wrapped); got != "Invalid data found when processing input" {
		t.Errorf("DetailOf() = %q", got)
	}
}

func TestError_Error(t *testing.T) {
	err := NewError(KindNotFound, "resolve upload", "abc123", nil)
	want := "resolve upload: not_found: abc123"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestKindOf_PlainError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}
	if got := DetailOf(errors.New("boom")); got != "boom" {
		t.Errorf("DetailOf(plain) = %q, want boom", got)
	}
	if got := DetailOf(nil); got != "" {
		t.Errorf("DetailOf(nil) = %q, want empty", got)
	}
}
