package service

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Kunalrpawar/crowd-management-sub001/internal/model"
)

// ─── Scoring Constants ──────────────────────────────────────

const (
	// DefaultMinScore is the lowest score that counts as a match.
	DefaultMinScore = 40

	// AgeTolerance is the largest age difference that still earns AgePoints.
	AgeTolerance = 5

	AgePoints      = 30
	ClothingPoints = 20 // per matching token
	LocationPoints = 40
)

var firstInt = regexp.MustCompile(`\d+`)

// Match is one scored candidate.
type Match struct {
	Report model.PersonReport `json:"report"`
	Score  int                `json:"score"`
}

// ─── MatchScorer ────────────────────────────────────────────

// Score computes the similarity between a subject report and a candidate of
// the opposite kind.
//
// Each contributor is independent and additive; an attribute missing on
// either side contributes 0:
//
//	age       +30  when both ages are known and differ by at most 5
//	clothing  +20  per subject token found as a substring of the candidate's description
//	location  +40  when one location text contains the other (case-insensitive)
//
// Clothing tokens are not de-duplicated: "red red shirt" against "red shirt"
// scores the "red" token twice.
//
// Complexity: O(T × L) where T = subject tokens, L = candidate description length.
func Score(subject, candidate *model.PersonReport) int {
	score := 0

	if a, ok := ageOf(subject); ok {
		if b, ok := ageOf(candidate); ok && abs(a-b) <= AgeTolerance {
			score += AgePoints
		}
	}

	if candidate.ClothingDescription != "" {
		theirs := strings.ToLower(candidate.ClothingDescription)
		for _, token := range strings.Fields(strings.ToLower(subject.ClothingDescription)) {
			if strings.Contains(theirs, token) {
				score += ClothingPoints
			}
		}
	}

	ours := strings.ToLower(strings.TrimSpace(subject.LocationText))
	theirs := strings.ToLower(strings.TrimSpace(candidate.LocationText))
	if ours != "" && theirs != "" && (strings.Contains(ours, theirs) || strings.Contains(theirs, ours)) {
		score += LocationPoints
	}

	return score
}

// Rank scores every candidate against subject, drops those below minScore
// and returns the rest ordered by descending score. Equal scores keep their
// order in pool. The pool size is the caller's decision.
func Rank(pool []model.PersonReport, subject *model.PersonReport, minScore int) []Match {
	matches := make([]Match, 0, len(pool))
	for i := range pool {
		s := Score(subject, &pool[i])
		if s < minScore {
			continue
		}
		matches = append(matches, Match{Report: pool[i], Score: s})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

// ─── Helpers ────────────────────────────────────────────────

// ageOf returns the exact age when present, otherwise the first integer in
// the approximate age ("24-26" → 24, "about 40" → 40).
func ageOf(r *model.PersonReport) (int, bool) {
	if r.Age != nil {
		return *r.Age, true
	}
	digits := firstInt.FindString(r.ApproximateAge)
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
