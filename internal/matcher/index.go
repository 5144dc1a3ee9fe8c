package matcher

import (
	"sort"
	"strings"
	"unicode/utf8"

	"payer-reconciliation-service/internal/models"
	"payer-reconciliation-service/internal/normalize"
)

// RosterIndex is a read-only view of one roster snapshot prepared for
// matching. Build it once per batch and share it between workers.
type RosterIndex struct {
	// entries keeps roster order, which is the final tie-breaker.
	entries []*indexedEntry

	// byVariant maps every normalized name ordering to its entries.
	byVariant map[string][]*indexedEntry
}

type indexedEntry struct {
	entry    *models.RosterEntry
	position int

	// label is the normalized display name.
	label      string
	labelRunes int
	// words are the normalized tokens used by token-set scoring.
	words []string
	// variants are the normalized name orderings.
	variants []string
	// hintFields are searched for the statement reference.
	hintFields []string
}

// NewRosterIndex creates a new index from a roster snapshot. Entries without
// an id are skipped.
func NewRosterIndex(roster []*models.RosterEntry) *RosterIndex {
	index := &RosterIndex{
		byVariant: make(map[string][]*indexedEntry),
	}

	for _, e := range roster {
		if e == nil || strings.TrimSpace(e.ID) == "" {
			continue
		}
		ie := newIndexedEntry(e, len(index.entries))
		index.entries = append(index.entries, ie)
		for _, v := range ie.variants {
			index.byVariant[v] = append(index.byVariant[v], ie)
		}
	}

	return index
}

func newIndexedEntry(e *models.RosterEntry, position int) *indexedEntry {
	ie := &indexedEntry{
		entry:    e,
		position: position,
		label:    normalize.Normalize(e.DisplayName),
	}

	seen := make(map[string]struct{})
	addVariant := func(v string) {
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		ie.variants = append(ie.variants, v)
	}
	ie.labelRunes = utf8.RuneCountInString(ie.label)
	addVariant(ie.label)
	for _, v := range e.NameVariants {
		addVariant(normalize.Normalize(v))
	}

	// Tokens may arrive in any case; they are compared in normalized form.
	source := strings.Join(e.Tokens, " ")
	if strings.TrimSpace(source) == "" {
		source = e.DisplayName
	}
	ie.words = normalize.Words(normalize.Tokenize(source))

	ie.hintFields = []string{normalize.Normalize(e.ID), ie.label}
	return ie
}

// Len returns the number of indexed roster entries.
func (ix *RosterIndex) Len() int {
	return len(ix.entries)
}

// Entry returns the roster entry with the given id, or nil.
func (ix *RosterIndex) Entry(id string) *models.RosterEntry {
	for _, ie := range ix.entries {
		if ie.entry.ID == id {
			return ie.entry
		}
	}
	return nil
}

// lookupVariants returns the distinct entries whose variants contain any of
// keys, in roster order.
func (ix *RosterIndex) lookupVariants(keys ...string) []*indexedEntry {
	seen := make(map[int]struct{})
	var out []*indexedEntry
	for _, k := range keys {
		for _, ie := range ix.byVariant[k] {
			if _, ok := seen[ie.position]; ok {
				continue
			}
			seen[ie.position] = struct{}{}
			out = append(out, ie)
		}
	}
	sortByPosition(out)
	return out
}

func sortByPosition(entries []*indexedEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].position < entries[j].position
	})
}

// matchesHint reports whether the normalized hint appears in the entry's id
// or display name.
func (ie *indexedEntry) matchesHint(hint string) bool {
	for _, f := range ie.hintFields {
		if f != "" && strings.Contains(f, hint) {
			return true
		}
	}
	return false
}
