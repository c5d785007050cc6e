package csmt

import "testing"

func TestNewKeyRejectsWrongWidth(t *testing.T) {
	if _, err := NewKey([]byte{1, 2, 3}, 4); err == nil {
		t.Fatal("expected an error for a key shorter than the configured width")
	}
}

func TestKeyBit(t *testing.T) {
	var k Key
	k[0] = 0b1010_0000
	if got := k.Bit(0); got != 1 {
		t.Fatalf("bit 0: got %d, want 1", got)
	}
	if got := k.Bit(1); got != 0 {
		t.Fatalf("bit 1: got %d, want 0", got)
	}
	if got := k.Bit(2); got != 1 {
		t.Fatalf("bit 2: got %d, want 1", got)
	}
}

func TestComparePrefix(t *testing.T) {
	var a, b Key
	a[0], b[0] = 0b1111_0000, 0b1111_1000
	if c := comparePrefix(a, b, 4); c != 0 {
		t.Fatalf("prefixes agree in the first 4 bits: got %d, want 0", c)
	}
	if c := comparePrefix(a, b, 5); c >= 0 {
		t.Fatalf("a's 5th bit is 0 and b's is 1: got %d, want < 0", c)
	}
}

func TestFirstDifferingBit(t *testing.T) {
	var a, b Key
	a[0], b[0] = 0b1100_0000, 0b1101_0000
	if got := firstDifferingBit(a, b, 0, 32); got != 3 {
		t.Fatalf("got %d, want 3", got)
	}
	if got := firstDifferingBit(a, a, 0, 32); got != 32 {
		t.Fatalf("identical keys should agree through maxBit: got %d, want 32", got)
	}
}

func TestMinKey(t *testing.T) {
	var a, b Key
	a[0], b[0] = 0x01, 0x02
	if got := minKey(a, b); got != a {
		t.Fatalf("expected a to be the minimum")
	}
	if got := minKey(b, a); got != a {
		t.Fatalf("minKey should be order-independent")
	}
}
