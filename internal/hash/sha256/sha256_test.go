package sha256

import "testing"

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "bf5d969ac1b27d9352c04db2872c44a38d1c337b04af56fbc166407ab986fb1e"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if again, _ := h.Hash([]byte("hello world")); again != got {
		t.Fatalf("expected %s, got %s", got, again)
	}
	if len(got) != Size {
		t.Fatalf("expected %d hex chars, got %d", Size, len(got))
	}
}

// TestHasherHashKeepsPartBoundaries checks that shifting bytes between parts changes the digest.
func TestHasherHashKeepsPartBoundaries(t *testing.T) {
	t.Parallel()

	h := New()
	cases := [][2][][]byte{
		{{[]byte("x"), []byte("abc")}, {[]byte("xabc"), []byte("")}},
		{{[]byte("hello "), []byte("world")}, {[]byte("hello world")}},
		{{[]byte(""), []byte("a")}, {[]byte("a"), []byte("")}},
	}
	for _, c := range cases {
		left, err := h.Hash(c[0]...)
		if err != nil {
			t.Fatalf("Hash() error = %v", err)
		}
		right, _ := h.Hash(c[1]...)
		if left == right {
			t.Fatalf("parts %q and %q collide on %s", c[0], c[1], left)
		}
	}
}
