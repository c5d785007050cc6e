package csmt

import "testing"

func TestHashersProduceDistinctDigests(t *testing.T) {
	hashers := []Hasher{NewBlake3Hasher(), NewBlake2bHasher(), NewSHA256Hasher()}
	seen := map[Hash]string{}
	for _, h := range hashers {
		d := h.Sum([]byte("same input"))
		if other, ok := seen[d]; ok {
			t.Fatalf("%s and %s produced the same digest for identical input", h.Name(), other)
		}
		seen[d] = h.Name()
	}
}

func TestHasherDomainSeparation(t *testing.T) {
	h := NewBlake3Hasher()
	key, err := NewKey([]byte("01234567890123456789"), 20)
	if err != nil {
		t.Fatal(err)
	}
	value := []byte("value")

	dh := dataHash(h, key, 20, value)
	lh := leafHash(h, key, 20, dh)
	if dh == lh {
		t.Fatal("Data and Leaf hashes collided despite distinct domain tags")
	}

	// A Branch over the Data and Leaf hashes as children must not collide
	// with either, even though the byte lengths line up.
	bh := branchHash(h, 0, dh, lh)
	if bh == dh || bh == lh {
		t.Fatal("Branch hash collided with one of its own children")
	}
}

func TestHashFromBytesValidatesLength(t *testing.T) {
	if _, err := HashFromBytes(make([]byte, HashSize-1)); err == nil {
		t.Fatal("expected an error for a short hash")
	}
	h, err := HashFromBytes(make([]byte, HashSize))
	if err != nil {
		t.Fatal(err)
	}
	if !h.IsZero() {
		t.Fatal("an all-zero input should round-trip to the zero Hash")
	}
}
