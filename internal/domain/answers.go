package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"strings"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// CodeLength is the length of a public quiz code.
	CodeLength = 6
)

// GenerateCode returns a random 6 character code drawn from [A-Z0-9].
func GenerateCode() (string, error) {
	buf := make([]byte, CodeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// ValidCode reports whether code has the public code format.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(codeAlphabet, rune(code[i])) {
			return false
		}
	}
	return true
}

// NormalizeSet turns a comma separated selection into its canonical
// sorted, de-duplicated, comma-joined form.
func NormalizeSet(raw string) string {
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		values = append(values, p)
	}
	sort.Strings(values)
	return strings.Join(values, ",")
}

// IsCorrect checks a submitted answer against the question's correct answer.
func (q Question) IsCorrect(answer string) bool {
	if q.Kind == KindMultiple {
		return NormalizeSet(answer) == NormalizeSet(q.CorrectAnswer)
	}
	return answer == q.CorrectAnswer
}

// Validate checks a quiz definition before it is stored and canonicalises
// multiple-choice answers and time limits.
func (q *Quiz) Validate() error {
	if strings.TrimSpace(q.Title) == "" || strings.TrimSpace(q.Category) == "" {
		return fmt.Errorf("%w: title and category are required", ErrBadRequest)
	}
	if strings.TrimSpace(q.CreatedBy) == "" || strings.TrimSpace(q.CreatorName) == "" {
		return fmt.Errorf("%w: creator is required", ErrBadRequest)
	}
	if len(q.Questions) == 0 {
		return fmt.Errorf("%w: quiz must have at least one question", ErrBadRequest)
	}
	for i := range q.Questions {
		question := &q.Questions[i]
		if strings.TrimSpace(question.Text) == "" {
			return fmt.Errorf("%w: question %d has no text", ErrBadRequest, i+1)
		}
		switch question.Kind {
		case KindSingle, KindText:
		case KindMultiple:
			question.CorrectAnswer = NormalizeSet(question.CorrectAnswer)
		case "":
			question.Kind = KindSingle
		default:
			return fmt.Errorf("%w: question %d has unknown type %q", ErrBadRequest, i+1, question.Kind)
		}
		if question.Kind != KindText && len(question.Options) == 0 {
			return fmt.Errorf("%w: question %d needs options", ErrBadRequest, i+1)
		}
		if question.CorrectAnswer == "" {
			return fmt.Errorf("%w: question %d has no correct answer", ErrBadRequest, i+1)
		}
		if question.Options == nil {
			question.Options = []string{}
		}
		if question.TimeLimit <= 0 {
			question.TimeLimit = DefaultTimeLimit
		}
	}
	return nil
}
