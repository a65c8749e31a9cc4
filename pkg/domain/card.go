package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// BranchAI is reserved for AI personas.
	BranchAI = "AI"
	// BranchCommunity is used when a backfilled user has no branch.
	BranchCommunity = "COMM"
)

var branchPattern = regexp.MustCompile(`^[A-Z0-9]{2,8}$`)

// NormalizeBranch upper-cases and validates a branch code.
func NormalizeBranch(raw string) (string, bool) {
	b := strings.ToUpper(strings.TrimSpace(raw))
	return b, branchPattern.MatchString(b)
}

// CardYear is the two-digit UTC year used in card numbers and counter keys.
func CardYear(t time.Time) string {
	return fmt.Sprintf("%02d", t.UTC().Year()%100)
}

// CounterKey names the counter shared by one (year, branch) pair.
func CounterKey(year, branch string) string {
	return year + "-" + branch
}

// CardNumber renders ZL-{yy}-{branch}-{nnnn}. Sequences past 9999 keep
// growing in width rather than wrapping.
func CardNumber(year, branch string, seq int64) string {
	return fmt.Sprintf("ZL-%s-%s-%04d", year, branch, seq)
}
