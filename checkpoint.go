// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found at
// https://go.googlesource.com/go/+/refs/heads/master/LICENSE.

package csmt

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/sumdb/note"
)

const maxCheckpointSize = 1e6

// A RootCheckpoint is a signed, transparency-log-style statement of a
// tree's root hash, formatted one field per line in the same shape as
// c2sp.org/checkpoint:
//
//	example.com/my-tree
//	32
//	nND/nri/U0xuHUrYSy0HtMeal2vzD9V4k/BO79C+QeI=
//
// The numeric line is the tree's configured key width in bytes rather
// than a monotonically increasing log size: two checkpoints of the same
// tree signed seconds apart can legitimately name the same root if
// nothing changed between them. It can be followed by extra extension
// lines.
type RootCheckpoint struct {
	Origin   string
	KeyWidth int
	Root     Hash

	// Extension is empty or a sequence of non-empty lines, each
	// terminated by a newline character.
	Extension string
}

// ParseRootCheckpoint parses the unsigned text of a RootCheckpoint, as
// found in a verified [note.Note]'s Text field.
func ParseRootCheckpoint(text string) (RootCheckpoint, error) {
	if strings.Count(text, "\n") < 3 || len(text) > maxCheckpointSize {
		return RootCheckpoint{}, errors.New("malformed root checkpoint")
	}
	if !strings.HasSuffix(text, "\n") {
		return RootCheckpoint{}, errors.New("malformed root checkpoint")
	}

	lines := strings.SplitN(text, "\n", 4)

	width, err := strconv.Atoi(lines[1])
	if err != nil || width < 0 || lines[1] != strconv.Itoa(width) {
		return RootCheckpoint{}, errors.New("malformed root checkpoint")
	}

	h, err := base64.StdEncoding.DecodeString(lines[2])
	if err != nil || len(h) != HashSize {
		return RootCheckpoint{}, errors.New("malformed root checkpoint")
	}

	rest := lines[3]
	for rest != "" {
		before, after, found := strings.Cut(rest, "\n")
		if before == "" || !found {
			return RootCheckpoint{}, errors.New("malformed root checkpoint")
		}
		rest = after
	}

	var root Hash
	copy(root[:], h)
	return RootCheckpoint{lines[0], width, root, lines[3]}, nil
}

func (c RootCheckpoint) String() string {
	return fmt.Sprintf("%s\n%d\n%s\n%s",
		c.Origin,
		c.KeyWidth,
		base64.StdEncoding.EncodeToString(c.Root[:]),
		c.Extension,
	)
}

// SignRootCheckpoint produces a signed note over c, using signer exactly
// as note.Sign would for any other note.
func SignRootCheckpoint(c RootCheckpoint, signer note.Signer) ([]byte, error) {
	return note.Sign(&note.Note{Text: c.String()}, signer)
}

// OpenRootCheckpoint verifies signed against verifiers and parses its text
// as a RootCheckpoint.
func OpenRootCheckpoint(signed []byte, verifiers note.Verifiers) (RootCheckpoint, error) {
	n, err := note.Open(signed, verifiers)
	if err != nil {
		return RootCheckpoint{}, fmt.Errorf("csmt: opening root checkpoint: %w", err)
	}
	return ParseRootCheckpoint(n.Text)
}
