package models

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"payer-reconciliation-service/internal/normalize"
)

// RosterEntry is one addressable account (client or player) of a tenant.
// Entries are owned by roster management and are read-only to reconciliation.
type RosterEntry struct {
	ID           string   `json:"id" yaml:"id"`
	DisplayName  string   `json:"display_name" yaml:"display_name"`
	NameVariants []string `json:"name_variants" yaml:"name_variants"`
	Tokens       []string `json:"tokens" yaml:"tokens"`
}

// NewRosterEntry builds an entry from its name parts and precomputes every
// ordering variant: surname first, given name first, and both orderings of
// each alternate name (a tutor or guardian who usually pays for the account).
// Alternates may be written "Surname, Given" or as a single full name.
func NewRosterEntry(id, surname, givenName string, alternates ...string) *RosterEntry {
	display := strings.TrimSpace(strings.Join(strings.Fields(surname+" "+givenName), " "))

	variants := newVariantSet()
	variants.add(normalize.Join(surname, givenName))
	variants.add(normalize.Join(givenName, surname))
	for _, alt := range alternates {
		variants.add(normalize.Normalize(alt))
		if swapped, ok := normalize.SwapCommaOrder(alt); ok {
			variants.add(swapped)
		}
	}

	return &RosterEntry{
		ID:           strings.TrimSpace(id),
		DisplayName:  display,
		NameVariants: variants.list(),
		Tokens:       normalize.Words(normalize.Tokenize(display)),
	}
}

// Validate performs basic validation on the RosterEntry
func (r *RosterEntry) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("roster entry id cannot be empty")
	}
	if strings.TrimSpace(r.DisplayName) == "" && len(r.NameVariants) == 0 {
		return fmt.Errorf("roster entry %s has no name", r.ID)
	}
	return nil
}

// Prepare fills in tokens and the display-name variant when a caller supplied
// only DisplayName and a partial variant list. Variants are normalized.
func (r *RosterEntry) Prepare() {
	variants := newVariantSet()
	variants.add(normalize.Normalize(r.DisplayName))
	for _, v := range r.NameVariants {
		variants.add(normalize.Normalize(v))
	}
	r.NameVariants = variants.list()
	if len(r.Tokens) == 0 {
		r.Tokens = normalize.Words(normalize.Tokenize(r.DisplayName))
	}
}

// Label returns the normalized display name.
func (r *RosterEntry) Label() string {
	return normalize.Normalize(r.DisplayName)
}

// String returns a string representation of the RosterEntry
func (r *RosterEntry) String() string {
	return fmt.Sprintf("RosterEntry{ID: %s, Name: %s, Variants: %d}", r.ID, r.DisplayName, len(r.NameVariants))
}

type variantSet struct {
	seen  map[string]struct{}
	order []string
}

func newVariantSet() *variantSet {
	return &variantSet{seen: make(map[string]struct{})}
}

func (s *variantSet) add(v string) {
	if v == "" {
		return
	}
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.order = append(s.order, v)
}

func (s *variantSet) list() []string {
	return s.order
}

// PayerAlias is a confirmed mapping from a normalized payer key to one account.
type PayerAlias struct {
	TenantID           string    `json:"tenant_id"`
	NormalizedPayerKey string    `json:"normalized_payer_key"`
	AccountID          string    `json:"account_id"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	CreatedBy          string    `json:"created_by,omitempty"`
	UpdatedBy          string    `json:"updated_by,omitempty"`
}

// NewPayerAlias creates an alias stamped with the current time.
func NewPayerAlias(tenantID, key, accountID, actingUser string) *PayerAlias {
	now := time.Now().UTC()
	return &PayerAlias{
		TenantID:           tenantID,
		NormalizedPayerKey: key,
		AccountID:          accountID,
		CreatedAt:          now,
		UpdatedAt:          now,
		CreatedBy:          actingUser,
		UpdatedBy:          actingUser,
	}
}

// Validate performs basic validation on the PayerAlias
func (a *PayerAlias) Validate() error {
	if strings.TrimSpace(a.TenantID) == "" {
		return fmt.Errorf("tenant id cannot be empty")
	}
	if strings.TrimSpace(a.NormalizedPayerKey) == "" {
		return fmt.Errorf("payer key cannot be empty")
	}
	if normalize.Normalize(a.NormalizedPayerKey) != a.NormalizedPayerKey {
		return fmt.Errorf("payer key %q is not normalized", a.NormalizedPayerKey)
	}
	if strings.TrimSpace(a.AccountID) == "" {
		return fmt.Errorf("account id cannot be empty")
	}
	return nil
}

var recordNameUnsafe = regexp.MustCompile(`[^A-Za-z0-9]+`)

// RecordName returns a storage-friendly name for the alias key, e.g.
// "ROJAS MARIA" becomes "rojas_maria".
func (a *PayerAlias) RecordName() string {
	return RecordName(a.NormalizedPayerKey)
}

// RecordName sanitizes a normalized payer key for use as a record name.
func RecordName(key string) string {
	name := strings.Trim(recordNameUnsafe.ReplaceAllString(key, "_"), "_")
	return strings.ToLower(name)
}

// Clone returns a copy of the alias.
func (a *PayerAlias) Clone() *PayerAlias {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// SortAliases orders aliases by payer key.
func SortAliases(aliases []*PayerAlias) {
	sort.Slice(aliases, func(i, j int) bool {
		return aliases[i].NormalizedPayerKey < aliases[j].NormalizedPayerKey
	})
}
