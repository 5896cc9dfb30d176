// Package bot implements the ask and collect phases of the question of the
// day: recipient selection, delivery, reply matching, and republishing.
package bot

import (
	"math/rand/v2"
	"strings"
)

// Pick pairs one recipient with one question.
type Pick struct {
	User     string
	Question string
}

// Eligible returns members minus the excluded identifiers, de-duplicated,
// in first-seen order. Blank identifiers are dropped.
func Eligible(members, exclude []string) []string {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		if id = strings.TrimSpace(id); id != "" {
			skip[id] = true
		}
	}
	seen := make(map[string]bool, len(members))
	var out []string
	for _, m := range members {
		if m == "" || skip[m] || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// Select chooses min(k, eligible, len(questions)) distinct recipients and
// pairs each with a distinct question, uniformly without replacement.
func Select(members, exclude []string, k int, questions []string, rng *rand.Rand) ([]Pick, error) {
	var bank []string
	for _, q := range questions {
		if strings.TrimSpace(q) != "" {
			bank = append(bank, q)
		}
	}
	if len(bank) == 0 {
		return nil, ErrEmptyQuestionBank
	}
	eligible := Eligible(members, exclude)
	if len(eligible) == 0 {
		return nil, ErrNoEligibleRecipients
	}

	n := min(k, len(eligible), len(bank))
	if n <= 0 {
		return nil, nil
	}

	users := sample(eligible, n, rng)
	qs := sample(bank, n, rng)
	picks := make([]Pick, n)
	for i := range n {
		picks[i] = Pick{User: users[i], Question: qs[i]}
	}
	return picks, nil
}

// sample returns n elements of src chosen without replacement using a
// partial Fisher-Yates shuffle on a copy.
func sample(src []string, n int, rng *rand.Rand) []string {
	buf := append([]string(nil), src...)
	for i := range n {
		j := i + rng.IntN(len(buf)-i)
		buf[i], buf[j] = buf[j], buf[i]
	}
	return buf[:n]
}
