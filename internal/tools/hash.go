package tools

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"golang.org/x/crypto/blake2b"

	"cakisi/internal/core"
)

// AlgorithmAll selects every supported algorithm.
const AlgorithmAll = "all"

// Algorithm describes a supported digest.
type Algorithm struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Bits int    `json:"bits"`
}

// Algorithms lists supported digests in display order.
var Algorithms = []Algorithm{
	{ID: "md5", Name: "MD5", Bits: 128},
	{ID: "sha1", Name: "SHA-1", Bits: 160},
	{ID: "sha256", Name: "SHA-256", Bits: 256},
	{ID: "sha512", Name: "SHA-512", Bits: 512},
	{ID: "blake2b", Name: "BLAKE2b", Bits: 512},
}

func newHash(id string) (hash.Hash, bool) {
	switch id {
	case "md5":
		return md5.New(), true
	case "sha1":
		return sha1.New(), true
	case "sha256":
		return sha256.New(), true
	case "sha512":
		return sha512.New(), true
	case "blake2b":
		// New512 only fails for an oversized key.
		h, _ := blake2b.New512(nil)
		return h, true
	default:
		return nil, false
	}
}

// HashReader streams r through the selected algorithm, or all of them, and
// returns hex digests keyed by algorithm id along with the byte count.
func HashReader(algorithm string, r io.Reader) (map[string]string, int64, error) {
	ids := []string{algorithm}
	if algorithm == "" || algorithm == AlgorithmAll {
		ids = ids[:0]
		for _, a := range Algorithms {
			ids = append(ids, a.ID)
		}
	}

	hashers := make(map[string]hash.Hash, len(ids))
	writers := make([]io.Writer, 0, len(ids))
	for _, id := range ids {
		h, ok := newHash(id)
		if !ok {
			return nil, 0, core.NewInvalidRequestError(fmt.Sprintf("unsupported algorithm %q", id), nil).WithTool(SlugHashGenerator)
		}
		hashers[id] = h
		writers = append(writers, h)
	}

	n, err := io.Copy(io.MultiWriter(writers...), r)
	if err != nil {
		return nil, n, fmt.Errorf("hash input: %w", err)
	}

	out := make(map[string]string, len(hashers))
	for id, h := range hashers {
		out[id] = hex.EncodeToString(h.Sum(nil))
	}
	return out, n, nil
}

// HashText hashes s with the selected algorithm, or all of them.
func HashText(algorithm, s string) (map[string]string, error) {
	out, _, err := HashReader(algorithm, strings.NewReader(s))
	return out, err
}

// CompareDigests reports whether two hex digests are equal, ignoring case
// and surrounding whitespace.
func CompareDigests(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
