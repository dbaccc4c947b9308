package interview

import (
	"math/rand/v2"

	"github.com/avelis/prepvox/internal/question"
)

// SampleQuestions draws n questions uniformly at random without replacement.
// The pool is not modified. A partial Fisher-Yates shuffle keeps every
// subset equally likely regardless of pool order.
func SampleQuestions(pool []question.Question, n int, rng *rand.Rand) []question.Question {
	if n > len(pool) {
		n = len(pool)
	}
	if n <= 0 {
		return nil
	}

	out := append([]question.Question(nil), pool...)
	for i := 0; i < n && i < len(out)-1; i++ {
		j := i + rng.IntN(len(out)-i)
		out[i], out[j] = out[j], out[i]
	}
	return out[:n:n]
}
