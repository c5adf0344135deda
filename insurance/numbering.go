package insurance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	PolicyNumberPrefix = "POL"
	ClaimNumberPrefix  = "CLM"

	numberDigits = 8

	// MaxNumberAttempts bounds AssignNumber retries after a uniqueness violation.
	MaxNumberAttempts = 5
)

// NextNumber increments the numeric suffix of last and re-applies prefix,
// zero-padded to 8 digits. An empty last yields the first number.
//
//	NextNumber("POL", "POL00000041") == "POL00000042"
func NextNumber(prefix, last string) (string, error) {
	var n int64
	if last != "" {
		suffix := strings.TrimPrefix(last, prefix)
		parsed, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil {
			return "", fmt.Errorf("malformed sequential number %q: %w", last, err)
		}
		n = parsed
	}
	return fmt.Sprintf("%s%0*d", prefix, numberDigits, n+1), nil
}

// AssignNumber reads the current maximum, derives the next number and calls
// insert with it. Two callers can observe the same maximum; the loser's
// insert fails with ErrDuplicateNumber (unique index) and is retried against
// a fresh maximum. Any other error is returned as-is.
func AssignNumber(
	ctx context.Context,
	prefix string,
	last func(ctx context.Context, prefix string) (string, error),
	insert func(ctx context.Context, number string) error,
) (string, error) {
	var lastErr error
	for attempt := 0; attempt < MaxNumberAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", Unavailable("assign number", err)
		}

		current, err := last(ctx, prefix)
		if err != nil {
			return "", err
		}
		number, err := NextNumber(prefix, current)
		if err != nil {
			return "", err
		}

		err = insert(ctx, number)
		if err == nil {
			return number, nil
		}
		if !errors.Is(err, ErrDuplicateNumber) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("assign %s number after %d attempts: %w", prefix, MaxNumberAttempts, lastErr)
}
