package csmt

import (
	"crypto/rand"
	"strings"
	"testing"

	"golang.org/x/mod/sumdb/note"
)

func TestRootCheckpointRoundTrip(t *testing.T) {
	skey, vkey, err := note.GenerateKey(rand.Reader, "example.com/tree")
	if err != nil {
		t.Fatal(err)
	}
	signer, err := note.NewSigner(skey)
	if err != nil {
		t.Fatal(err)
	}
	verifier, err := note.NewVerifier(vkey)
	if err != nil {
		t.Fatal(err)
	}

	c := RootCheckpoint{Origin: "example.com/tree", KeyWidth: 32, Root: Hash{1, 2, 3}}
	signed, err := SignRootCheckpoint(c, signer)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	got, err := OpenRootCheckpoint(signed, note.VerifierList(verifier))
	if err != nil {
		t.Fatalf("opening: %v", err)
	}
	if got.Origin != c.Origin || got.KeyWidth != c.KeyWidth || got.Root != c.Root {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, c)
	}
}

func TestRootCheckpointRejectsTamperedSignature(t *testing.T) {
	skey, vkey, err := note.GenerateKey(rand.Reader, "example.com/tree")
	if err != nil {
		t.Fatal(err)
	}
	signer, err := note.NewSigner(skey)
	if err != nil {
		t.Fatal(err)
	}
	verifier, err := note.NewVerifier(vkey)
	if err != nil {
		t.Fatal(err)
	}

	signed, err := SignRootCheckpoint(RootCheckpoint{Origin: "example.com/tree", KeyWidth: 20, Root: Hash{9}}, signer)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(signed), "example.com/tree", "example.com/evil", 1)

	if _, err := OpenRootCheckpoint([]byte(tampered), note.VerifierList(verifier)); err == nil {
		t.Fatal("expected tampering the checkpoint body to invalidate its signature")
	}
}

func TestParseRootCheckpointRejectsMalformedText(t *testing.T) {
	if _, err := ParseRootCheckpoint("not a checkpoint"); err == nil {
		t.Fatal("expected an error for malformed checkpoint text")
	}
}
