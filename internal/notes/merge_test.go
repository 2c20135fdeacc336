package notes

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

// Applying two conflicting updates in either order must settle on the one
// with the later timestamp.
func testSupersedes_LastWriteWins(t *rapid.T) {
	base := time.Unix(1_700_000_000, 0).UTC()
	d1 := rapid.Int64Range(0, 1_000_000).Draw(t, "d1")
	d2 := rapid.Int64Range(0, 1_000_000).Draw(t, "d2")
	if d1 == d2 {
		d2++
	}

	older, newer := d1, d2
	if older > newer {
		older, newer = newer, older
	}

	a := New("u", "u")
	a.Title = "older"
	a.UpdatedAt = base.Add(time.Duration(older) * time.Millisecond)
	b := a.Clone()
	b.Title = "newer"
	b.UpdatedAt = base.Add(time.Duration(newer) * time.Millisecond)

	apply := func(first, second Note) Note {
		state := first
		if Supersedes(second, state) {
			state = second
		}
		return state
	}

	if got := apply(a, b); got.Title != "newer" {
		t.Fatalf("a then b settled on %q", got.Title)
	}
	if got := apply(b, a); got.Title != "newer" {
		t.Fatalf("b then a settled on %q", got.Title)
	}
}

func TestSupersedes_LastWriteWins(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testSupersedes_LastWriteWins)
}

func TestSupersedes_EdgeCases(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	stamped := New("u", "u")
	stamped.UpdatedAt = now

	unstamped := stamped.Clone()
	unstamped.UpdatedAt = time.Time{}

	if Supersedes(unstamped, stamped) {
		t.Fatalf("unstamped incoming must not overwrite stamped state")
	}
	if !Supersedes(stamped, unstamped) {
		t.Fatalf("stamped incoming must overwrite unstamped state")
	}

	echo := stamped.Clone()
	if !Supersedes(echo, stamped) {
		t.Fatalf("equal timestamps admit the incoming write")
	}
}
