// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package bbv

import (
	"sort"
	"strconv"
	"strings"
)

// sliceEntry is one block's contribution to a slice: its stable column id
// and its weighted count, exec count times static instruction count.
type sliceEntry struct {
	id     uint64
	weight uint64
}

// rankEntries orders a slice's entries for emission. topK == 0 keeps
// discovery (id) order and every entry; otherwise entries are sorted by
// descending weight, ties broken by ascending id for deterministic
// output, and truncated to the top k.
func rankEntries(entries []sliceEntry, topK int) []sliceEntry {
	if topK == 0 {
		return entries
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].weight != entries[j].weight {
			return entries[i].weight > entries[j].weight
		}
		return entries[i].id < entries[j].id
	})
	if len(entries) > topK {
		entries = entries[:topK]
	}
	return entries
}

// formatSlice renders one BBV row: the literal marker T, one
// " :<id>:<weight>" field per entry, and a trailing newline. This is the
// complete contract with the downstream clustering tool, so the format
// must not drift.
func formatSlice(entries []sliceEntry) string {
	var b strings.Builder
	b.WriteByte('T')
	for _, e := range entries {
		b.WriteString(" :")
		b.WriteString(strconv.FormatUint(e.id, 10))
		b.WriteByte(':')
		b.WriteString(strconv.FormatUint(e.weight, 10))
	}
	b.WriteByte('\n')
	return b.String()
}
