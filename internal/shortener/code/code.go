// Package code derives deterministic short codes from canonical URLs.
//
// The derivation is pure: SHA-256 over "canonical|tenant[|salt]", the first
// 16 digest bytes read as a big-endian 128-bit integer, Base58-encoded and
// left-padded to a fixed length. The same (canonical URL, tenant) input
// yields the same code forever; the salt exists only to sidestep the rare
// collision and is bumped by the create coordinator, never by callers.
package code

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Alphabet is Base58: the 0/O and I/l pairs are excluded so codes survive
// being read aloud or retyped.
const Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// DefaultLength is the standard short-code length.
const DefaultLength = 10

var alphabetIndex = func() [256]bool {
	var idx [256]bool
	for i := 0; i < len(Alphabet); i++ {
		idx[Alphabet[i]] = true
	}
	return idx
}()

// Deriver computes short codes of a fixed length.
type Deriver struct {
	length int
}

// NewDeriver returns a Deriver emitting codes of the given length.
// Non-positive lengths fall back to DefaultLength.
func NewDeriver(length int) *Deriver {
	if length <= 0 {
		length = DefaultLength
	}
	return &Deriver{length: length}
}

// Length returns the configured code length.
func (d *Deriver) Length() int { return d.length }

// Derive computes the short code for a canonical URL within a tenant.
// salt 0 means "first attempt" and is omitted from the hash input, so the
// unsalted code is stable across deployments that never saw a collision.
func (d *Deriver) Derive(canonicalURL string, tenantID int64, salt int) string {
	input := canonicalURL + "|" + strconv.FormatInt(tenantID, 10)
	if salt > 0 {
		input += "|" + strconv.Itoa(salt)
	}

	digest := sha256.Sum256([]byte(input))

	n := new(big.Int).SetBytes(digest[:16])
	encoded := encodeBase58(n)

	if len(encoded) < d.length {
		encoded = strings.Repeat(string(Alphabet[0]), d.length-len(encoded)) + encoded
	}
	return encoded[:d.length]
}

// Validate checks that a code has the expected length and draws only from
// the Base58 alphabet. Used for caller-supplied custom codes and for the
// resolver's cheap pre-storage check.
func (d *Deriver) Validate(code string) error {
	if len(code) != d.length {
		return fmt.Errorf("code must be exactly %d characters, got %d", d.length, len(code))
	}
	for i := 0; i < len(code); i++ {
		if !alphabetIndex[code[i]] {
			return fmt.Errorf("code contains invalid character %q", code[i])
		}
	}
	return nil
}

var base58 = big.NewInt(58)

func encodeBase58(n *big.Int) string {
	if n.Sign() == 0 {
		return string(Alphabet[0])
	}

	var out []byte
	rem := new(big.Int)
	n = new(big.Int).Set(n)
	for n.Sign() > 0 {
		n.DivMod(n, base58, rem)
		out = append(out, Alphabet[rem.Int64()])
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}
