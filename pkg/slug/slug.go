// Package slug derives URL keys from titles.
package slug

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
)

var (
	whitespace = regexp.MustCompile(`[\s\p{Zs}\x{2028}\x{2029}\x{FEFF}]+`)
	nonWord    = regexp.MustCompile(`[^a-z0-9_-]+`)
	dashes     = regexp.MustCompile(`-{2,}`)
)

const (
	suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffixLen      = 4
)

// Make lower-cases s, turns whitespace runs into hyphens, drops anything
// outside [a-z0-9_-], collapses repeated hyphens and trims them from both
// ends. Make(Make(s)) == Make(s).
func Make(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = whitespace.ReplaceAllString(s, "-")
	s = nonWord.ReplaceAllString(s, "")
	s = dashes.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// WithSuffix appends a random short suffix: "my-title-x7k2".
func WithSuffix(base string) string {
	return base + "-" + Suffix()
}

// Suffix returns suffixLen random lower-case alphanumerics.
func Suffix() string {
	var b strings.Builder
	max := big.NewInt(int64(len(suffixAlphabet)))
	for i := 0; i < suffixLen; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			b.WriteByte(suffixAlphabet[i])
			continue
		}
		b.WriteByte(suffixAlphabet[n.Int64()])
	}
	return b.String()
}
