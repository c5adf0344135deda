package insurance_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reinsurance-engine/insurance"
)

func TestNextNumber(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		last   string
		want   string
	}{
		{"first policy", "POL", "", "POL00000001"},
		{"increments", "POL", "POL00000041", "POL00000042"},
		{"carries", "CLM", "CLM00000999", "CLM00001000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := insurance.NextNumber(tt.prefix, tt.last)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextNumber_Malformed(t *testing.T) {
	_, err := insurance.NextNumber("POL", "POLabc")
	assert.Error(t, err)
}

// numberTable simulates a unique index on the number column.
type numberTable struct {
	mu      sync.Mutex
	numbers map[string]bool
	max     string
}

func (n *numberTable) last(_ context.Context, _ string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.max, nil
}

func (n *numberTable) insert(_ context.Context, number string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.numbers[number] {
		return insurance.ErrDuplicateNumber
	}
	n.numbers[number] = true
	if number > n.max {
		n.max = number
	}
	return nil
}

func TestAssignNumber_RetriesOnDuplicate(t *testing.T) {
	// GIVEN: A reader that observes a stale maximum on the first call
	table := &numberTable{numbers: map[string]bool{"POL00000001": true}, max: "POL00000001"}
	calls := 0
	stale := func(ctx context.Context, prefix string) (string, error) {
		calls++
		if calls == 1 {
			return "", nil
		}
		return table.last(ctx, prefix)
	}

	// WHEN
	number, err := insurance.AssignNumber(context.Background(), "POL", stale, table.insert)

	// THEN: First insert collides, second succeeds against the fresh maximum
	require.NoError(t, err)
	assert.Equal(t, "POL00000002", number)
	assert.Equal(t, 2, calls)
}

func TestAssignNumber_GivesUpAfterMaxAttempts(t *testing.T) {
	last := func(context.Context, string) (string, error) { return "", nil }
	insert := func(context.Context, string) error { return insurance.ErrDuplicateNumber }

	_, err := insurance.AssignNumber(context.Background(), "CLM", last, insert)
	assert.ErrorIs(t, err, insurance.ErrDuplicateNumber)
}

func TestAssignNumber_OtherErrorsAreNotRetried(t *testing.T) {
	boom := errors.New("disk full")
	attempts := 0
	last := func(context.Context, string) (string, error) { return "", nil }
	insert := func(context.Context, string) error { attempts++; return boom }

	_, err := insurance.AssignNumber(context.Background(), "CLM", last, insert)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestAssignNumber_ConcurrentCallersGetUniqueNumbers(t *testing.T) {
	table := &numberTable{numbers: map[string]bool{}}

	const workers = 4
	results := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := insurance.AssignNumber(context.Background(), "POL", table.last, table.insert)
			if err == nil {
				results <- number
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for n := range results {
		assert.False(t, seen[n], "duplicate number %s", n)
		seen[n] = true
	}
	assert.Len(t, seen, workers)
}
