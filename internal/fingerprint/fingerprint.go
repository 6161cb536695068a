// Package fingerprint computes content fingerprints for files and
// directories.
//
// A fingerprint is a Blake2b-512 digest. File fingerprints are computed
// either over the whole content or over three sampled windows (head,
// centre, tail) of a fixed segment length, bounding I/O at three segments
// regardless of file size. Directory fingerprints are the digest of the
// sorted concatenation of child fingerprints, so they depend only on the
// multiset of children, not on names or traversal order.
package fingerprint

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"slices"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// Size is the fingerprint width in bytes (Blake2b-512).
const Size = blake2b.Size

// blockSize is the read buffer size (64KB).
const blockSize = 64 * 1024

// bufPool recycles read buffers across concurrent hashers.
var bufPool = sync.Pool{
	New: func() any { return make([]byte, blockSize) },
}

// Fingerprint is a fixed-width content digest.
// Two fingerprints are equal iff their bytes are equal.
type Fingerprint [Size]byte

// OfBytes computes the fingerprint of a byte slice.
func OfBytes(buf []byte) Fingerprint {
	return Fingerprint(blake2b.Sum512(buf))
}

// Compare orders fingerprints by length, then byte-by-byte. The width is
// fixed, so in practice this is the lexicographic order; the length step
// is part of the ordering contract used by Combine.
func Compare(a, b Fingerprint) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	return bytes.Compare(a[:], b[:])
}

// Combine aggregates child fingerprints into one.
//
// Children are sorted before hashing so the result is insensitive to
// traversal order: a directory fingerprint depends only on the multiset
// of its children's fingerprints.
func Combine(children []Fingerprint) Fingerprint {
	sorted := make([]Fingerprint, len(children))
	copy(sorted, children)
	slices.SortFunc(sorted, Compare)

	h := newDigest()
	for _, c := range sorted {
		_, _ = h.Write(c[:])
	}
	return sum(h)
}

// WholeHash reports whether a file of the given length is fingerprinted
// whole rather than sampled at the given segment length. Sampling only
// applies when the three windows fit without touching (3·segment < length).
func WholeHash(length, segmentLength int64) bool {
	return segmentLength == 0 || 3*segmentLength >= length
}

// OfReader computes the fingerprint of a reader's full content.
// Returns the fingerprint and the number of bytes read.
// The context is checked before every block read.
func OfReader(ctx context.Context, r io.Reader) (Fingerprint, int64, error) {
	h := newDigest()
	n, err := copyBlocks(ctx, h, r)
	if err != nil {
		return Fingerprint{}, n, err
	}
	return sum(h), n, nil
}

// OfSections computes the sampled fingerprint of a seekable reader of the
// given length: three windows of segmentLength bytes at the head, the
// centre and the tail, fed into a single digest in that order. Two files
// differing only between the windows collide; the verification rounds
// resolve this by growing segmentLength until OfSections degrades to a
// whole hash.
//
// When WholeHash(length, segmentLength) holds, the entire reader is
// hashed instead, so the sampled fingerprint of a small file equals its
// exact content fingerprint. The whole return value reports which path
// was taken; callers record segmentLength 0 when it is true.
func OfSections(ctx context.Context, r io.ReadSeeker, length, segmentLength int64) (fp Fingerprint, read int64, whole bool, err error) {
	if WholeHash(length, segmentLength) {
		fp, read, err = OfReader(ctx, r)
		return fp, read, true, err
	}

	// Window order is head, middle, tail. Reordering would make files
	// that differ only in the middle collide with files that differ
	// only at an edge.
	windows := [3]int64{
		0,
		length/2 - segmentLength/2,
		length - segmentLength,
	}

	h := newDigest()
	for _, start := range windows {
		n, err := hashSection(ctx, h, r, start, segmentLength)
		read += n
		if err != nil {
			return Fingerprint{}, read, false, err
		}
	}
	return sum(h), read, false, nil
}

// hashSection feeds one byte window into the digest.
func hashSection(ctx context.Context, h io.Writer, r io.ReadSeeker, start, size int64) (int64, error) {
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := copyBlocks(ctx, h, io.LimitReader(r, size))
	if err != nil {
		return n, err
	}
	if n != size {
		return n, fmt.Errorf("short section read at %d: %d of %d bytes", start, n, size)
	}
	return n, nil
}

// copyBlocks copies r into w through a pooled block buffer, checking the
// context before each read.
func copyBlocks(ctx context.Context, w io.Writer, r io.Reader) (int64, error) {
	buf := bufPool.Get().([]byte)
	defer bufPool.Put(buf)

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

// newDigest returns an unkeyed Blake2b-512 hash.
func newDigest() hash.Hash {
	h, err := blake2b.New512(nil)
	if err != nil {
		// New512 only fails for oversized keys; nil key cannot fail.
		panic(err)
	}
	return h
}

// sum finalises a digest created by newDigest.
func sum(h hash.Hash) Fingerprint {
	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}

// String returns the hex form, abbreviated for display.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:8])
}

// Hex returns the full hex form.
func (f Fingerprint) Hex() string {
	return hex.EncodeToString(f[:])
}

// MarshalText encodes the fingerprint as hex for storage.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.Hex()), nil
}

// UnmarshalText decodes a hex fingerprint.
func (f *Fingerprint) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(raw) != Size {
		return fmt.Errorf("fingerprint length %d, want %d", len(raw), Size)
	}
	copy(f[:], raw)
	return nil
}
