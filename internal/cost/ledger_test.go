package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLedger_AddIsPure(t *testing.T) {
	t.Parallel()

	var base Ledger
	next := base.Add(Usage{InputTokens: 10, OutputTokens: 5})

	assert.Equal(t, Ledger{}, base)
	assert.Equal(t, 1, next.Calls)
	assert.Equal(t, int64(10), next.InputTokens)
	assert.Equal(t, int64(5), next.OutputTokens)
}

func TestLedger_Merge(t *testing.T) {
	t.Parallel()

	a := Fold(Usage{InputTokens: 1, OutputTokens: 2}, Usage{InputTokens: 3, OutputTokens: 4})
	b := Fold(Usage{InputTokens: 10, OutputTokens: 20, CacheReadTokens: 7})

	got := a.Merge(b)
	assert.Equal(t, Ledger{Calls: 3, InputTokens: 14, OutputTokens: 26, CacheReadTokens: 7}, got)
	assert.Equal(t, got, b.Merge(a))
	assert.Equal(t, got, MergeAll(a, b))
}

func TestFold_EqualsSequentialAdd(t *testing.T) {
	t.Parallel()

	us := []Usage{{InputTokens: 100, OutputTokens: 1}, {InputTokens: 200}, {OutputTokens: 50}}
	var seq Ledger
	for _, u := range us {
		seq = seq.Add(u)
	}
	assert.Equal(t, seq, Fold(us...))
	assert.Equal(t, Usage{InputTokens: 300, OutputTokens: 51}, seq.Usage())
}

func TestFold_Empty(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Ledger{}, Fold())
	assert.Equal(t, Ledger{}, MergeAll())
}
