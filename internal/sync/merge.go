package sync

import (
	"cmp"
	"slices"
	"strings"

	"github.com/matheus3301/chatsync/internal/store"
)

// Merge folds batch into view and returns a new slice. Records are
// deduplicated by id with the later occurrence winning, then ordered by
// creation time with ties broken by id. Neither input is modified.
func Merge(view, batch []store.Message) []store.Message {
	pos := make(map[string]int, len(view)+len(batch))
	out := make([]store.Message, 0, len(view)+len(batch))
	for _, src := range [][]store.Message{view, batch} {
		for _, m := range src {
			if i, ok := pos[m.ID]; ok {
				out[i] = m
				continue
			}
			pos[m.ID] = len(out)
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, compareMessages)
	return out
}

func compareMessages(a, b store.Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return compareIDs(a.ID, b.ID)
}

// compareIDs orders decimal ids numerically and before any other id;
// remaining ids compare as strings. Decimal ids of any length compare by
// significant digits, so no width overflows.
func compareIDs(a, b string) int {
	da, db := digits(a), digits(b)
	switch {
	case da && db:
		ta, tb := strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
		if c := cmp.Compare(len(ta), len(tb)); c != 0 {
			return c
		}
		if c := strings.Compare(ta, tb); c != 0 {
			return c
		}
	case da:
		return -1
	case db:
		return 1
	}
	return strings.Compare(a, b)
}

func digits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Sorted reports whether msgs is in display order.
func Sorted(msgs []store.Message) bool {
	return slices.IsSortedFunc(msgs, compareMessages)
}
