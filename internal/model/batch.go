package model

import (
	"github.com/knights-analytics/hugot/backends"
)

// Truncate shortens every tokenized input of batch to at most limit tokens and
// recomputes the batch's sequence length. The final token is kept so a
// closing special token survives truncation.
func Truncate(batch *backends.PipelineBatch, limit int) {
	longest := 0
	for i := range batch.Input {
		in := &batch.Input[i]
		if limit > 0 && len(in.TokenIDs) > limit {
			in.TokenIDs = keepLast(in.TokenIDs, limit)
			in.TypeIDs = keepLast(in.TypeIDs, limit)
			in.AttentionMask = keepLast(in.AttentionMask, limit)
			in.SpecialTokensMask = keepLast(in.SpecialTokensMask, limit)
			in.Tokens = keepLast(in.Tokens, limit)
			in.Offsets = keepLast(in.Offsets, limit)
		}
		in.MaxAttentionIndex = 0
		for j, v := range in.AttentionMask {
			if v != 0 {
				in.MaxAttentionIndex = j
			}
		}
		longest = max(longest, in.MaxAttentionIndex+1)
	}
	batch.MaxSequenceLength = longest
}

// keepLast returns the first limit-1 elements of s followed by its last one.
func keepLast[T any](s []T, limit int) []T {
	if len(s) <= limit {
		return s
	}
	if limit < 2 {
		return s[:limit]
	}
	out := make([]T, limit)
	copy(out, s[:limit-1])
	out[limit-1] = s[len(s)-1]
	return out
}

// Bucket rounds n up to the next power of two, capped at limit.
func Bucket(n, limit int) int {
	b := 1
	for b < n {
		b <<= 1
	}
	if limit > 0 && b > limit {
		return max(limit, n)
	}
	return b
}
