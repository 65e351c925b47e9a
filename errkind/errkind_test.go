package errkind

import (
	"errors"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := New(NoKey, "lookup")
	if got, want := err.Error(), "lookup: no-key"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(BadAuth, "open", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is(err, cause) = false, want true")
	}
}

func TestIsComparesKindOnly(t *testing.T) {
	a := New(FamilyChanged, "select_family")
	b := New(FamilyChanged, "reset")
	if !errors.Is(a, b) {
		t.Fatalf("errors.Is should match on Kind regardless of Op")
	}
	c := New(Unsupported, "select_family")
	if errors.Is(a, c) {
		t.Fatalf("errors.Is should not match across different Kinds")
	}
}

func TestOf(t *testing.T) {
	err := New(NotFound, "lookup")
	kind, ok := Of(err)
	if !ok || kind != NotFound {
		t.Fatalf("Of(err) = (%v, %v), want (%v, true)", kind, ok, NotFound)
	}

	if _, ok := Of(errors.New("plain")); ok {
		t.Fatalf("Of(plain error) = ok, want !ok")
	}
}
