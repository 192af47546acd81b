package cost

// Usage is the token count reported for one judgment call.
type Usage struct {
	InputTokens      int64 `json:"inputTokens"`
	OutputTokens     int64 `json:"outputTokens"`
	CacheWriteTokens int64 `json:"cacheWriteTokens,omitempty"`
	CacheReadTokens  int64 `json:"cacheReadTokens,omitempty"`
}

// Ledger accumulates usage for a run. It is a value: Add and Merge return new
// ledgers and never mutate the receiver.
type Ledger struct {
	Calls            int   `json:"calls"`
	InputTokens      int64 `json:"inputTokens"`
	OutputTokens     int64 `json:"outputTokens"`
	CacheWriteTokens int64 `json:"cacheWriteTokens,omitempty"`
	CacheReadTokens  int64 `json:"cacheReadTokens,omitempty"`
}

// Add returns the ledger with one more call of usage u.
func (l Ledger) Add(u Usage) Ledger {
	l.Calls++
	l.InputTokens += u.InputTokens
	l.OutputTokens += u.OutputTokens
	l.CacheWriteTokens += u.CacheWriteTokens
	l.CacheReadTokens += u.CacheReadTokens
	return l
}

// Merge returns the sum of two ledgers.
func (l Ledger) Merge(o Ledger) Ledger {
	l.Calls += o.Calls
	l.InputTokens += o.InputTokens
	l.OutputTokens += o.OutputTokens
	l.CacheWriteTokens += o.CacheWriteTokens
	l.CacheReadTokens += o.CacheReadTokens
	return l
}

// Usage returns the ledger's token totals.
func (l Ledger) Usage() Usage {
	return Usage{
		InputTokens:      l.InputTokens,
		OutputTokens:     l.OutputTokens,
		CacheWriteTokens: l.CacheWriteTokens,
		CacheReadTokens:  l.CacheReadTokens,
	}
}

// Fold builds a ledger from a sequence of usages.
func Fold(us ...Usage) Ledger {
	var l Ledger
	for _, u := range us {
		l = l.Add(u)
	}
	return l
}

// MergeAll merges any number of ledgers.
func MergeAll(ls ...Ledger) Ledger {
	var out Ledger
	for _, l := range ls {
		out = out.Merge(l)
	}
	return out
}
