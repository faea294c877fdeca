package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/bits"
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	tokenRe      = regexp.MustCompile(`[\p{L}\p{N}@._-]+`)
)

// NormalizeText lowercases, trims and squashes whitespace.
func NormalizeText(text string) string {
	return whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), " ")
}

// Tokens splits text into lowercase tokens of letters and digits in any script.
func Tokens(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}

// ContentHash returns the sha256 hex digest of text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// shingles returns tokens followed by their adjacent bigrams.
func shingles(toks []string) []string {
	grams := make([]string, 0, len(toks)*2)
	grams = append(grams, toks...)
	for i := 0; i+1 < len(toks); i++ {
		grams = append(grams, toks[i]+" "+toks[i+1])
	}
	return grams
}

// SimHash64 computes a 64-bit SimHash over unigrams and bigrams of text,
// rendered as 16 lowercase hex characters. Text without tokens has no
// fingerprint and yields "".
func SimHash64(text string) string {
	grams := shingles(Tokens(text))
	if len(grams) == 0 {
		return ""
	}
	var votes [64]int
	for _, g := range grams {
		h := xxhash.Sum64String(g)
		for i := 0; i < 64; i++ {
			if h&(1<<uint(i)) != 0 {
				votes[i]++
			} else {
				votes[i]--
			}
		}
	}

	var out uint64
	for i := 0; i < 64; i++ {
		if votes[i] >= 0 {
			out |= 1 << uint(i)
		}
	}
	return fmt.Sprintf("%016x", out)
}

// HammingDistance counts differing bits between two hex SimHash fingerprints.
func HammingDistance(a, b string) (int, error) {
	x, err := strconv.ParseUint(a, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: fingerprint %q: %v", ErrInvalidArgument, a, err)
	}
	y, err := strconv.ParseUint(b, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: fingerprint %q: %v", ErrInvalidArgument, b, err)
	}
	return bits.OnesCount64(x ^ y), nil
}
