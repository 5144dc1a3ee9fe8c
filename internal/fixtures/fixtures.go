// Package fixtures generates reproducible tenants for exercising the
// reconciliation pipeline: a roster, statement rows whose expected verdict is
// known up front, and seed pairs. The same seed always yields the same data.
package fixtures

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"payer-reconciliation-service/internal/models"
	"payer-reconciliation-service/internal/parsers"
	"payer-reconciliation-service/internal/reconciler"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Kind describes how a generated payer text relates to its account.
type Kind string

const (
	// KindExact writes the account name surname first, as the roster has it.
	KindExact Kind = "exact"
	// KindReordered writes the given name first.
	KindReordered Kind = "reordered"
	// KindAccented lower-cases the name and adds accents and punctuation.
	KindAccented Kind = "accented"
	// KindTypo drops or swaps one letter of the surname.
	KindTypo Kind = "typo"
	// KindHomonym names two accounts that share a full name.
	KindHomonym Kind = "homonym"
	// KindAlternate pays under the alternate name of the account.
	KindAlternate Kind = "alternate"
	// KindUnknown is a payer nobody in the roster resembles.
	KindUnknown Kind = "unknown"
)

// Expectation is what reconciliation should conclude for a generated row.
type Expectation struct {
	Kind Kind
	// AccountID is the account the payer belongs to; empty for KindUnknown.
	AccountID string
	// Status is the verdict the row must get, or empty when the verdict
	// depends on scoring (KindTypo).
	Status models.Status
}

// Config controls the size and mix of a generated scenario.
type Config struct {
	Seed     int64
	Tenant   string
	Accounts int
	Rows     int
	// Homonyms is the number of account pairs sharing a name.
	Homonyms int

	// Share of rows per kind; the remainder after every other kind is exact.
	Reordered float64
	Accented  float64
	Typo      float64
	Alternate float64
	Unknown   float64

	StartDate time.Time
}

// DefaultConfig returns a small mixed scenario.
func DefaultConfig() Config {
	return Config{
		Seed:      1,
		Tenant:    "club-fixture",
		Accounts:  120,
		Rows:      200,
		Homonyms:  3,
		Reordered: 0.15,
		Accented:  0.10,
		Typo:      0.10,
		Alternate: 0.05,
		Unknown:   0.10,
		StartDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Validate checks the config can produce a scenario.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Tenant) == "" {
		return fmt.Errorf("tenant cannot be empty")
	}
	if c.Accounts <= 0 || c.Rows <= 0 {
		return fmt.Errorf("accounts and rows must be positive")
	}
	if c.Homonyms < 0 || 2*c.Homonyms > c.Accounts {
		return fmt.Errorf("homonym pairs must fit in %d accounts", c.Accounts)
	}
	if c.Accounts > len(surnames)*len(givenNames) {
		return fmt.Errorf("at most %d distinct accounts can be generated", len(surnames)*len(givenNames))
	}
	sum := c.Reordered + c.Accented + c.Typo + c.Alternate + c.Unknown
	if sum < 0 || sum > 1 {
		return fmt.Errorf("row shares must add up to at most 1, got %.2f", sum)
	}
	return nil
}

// Account is a generated roster account.
type Account struct {
	ID        string
	Surname   string
	GivenName string
	Alternate string
}

// FullName returns the name surname first.
func (a Account) FullName() string {
	return a.Surname + " " + a.GivenName
}

// Scenario is one generated tenant.
type Scenario struct {
	Tenant   string
	Accounts []Account
	Rows     []models.ReconciliationRow
	// Expected is keyed by RowNumber.
	Expected map[int]Expectation
}

// Roster returns the accounts as roster entries.
func (s *Scenario) Roster() []*models.RosterEntry {
	entries := make([]*models.RosterEntry, 0, len(s.Accounts))
	for _, a := range s.Accounts {
		var alternates []string
		if a.Alternate != "" {
			alternates = append(alternates, a.Alternate)
		}
		entries = append(entries, models.NewRosterEntry(a.ID, a.Surname, a.GivenName, alternates...))
	}
	return entries
}

// SeedPairs returns one client/payer pair per accented and reordered row,
// the kind of history an operator would have confirmed by hand.
func (s *Scenario) SeedPairs() []reconciler.SeedPair {
	byID := make(map[string]Account, len(s.Accounts))
	for _, a := range s.Accounts {
		byID[a.ID] = a
	}

	var pairs []reconciler.SeedPair
	seen := make(map[string]bool)
	for _, row := range s.Rows {
		exp := s.Expected[row.RowNumber]
		if exp.Kind != KindAccented && exp.Kind != KindReordered {
			continue
		}
		if seen[row.PayerRaw] {
			continue
		}
		seen[row.PayerRaw] = true
		pairs = append(pairs, reconciler.SeedPair{
			ClientFullName: byID[exp.AccountID].FullName(),
			PayerText:      row.PayerRaw,
		})
	}
	return pairs
}

// Generate builds a scenario from cfg.
func Generate(cfg Config) (*Scenario, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &generator{rng: rand.New(rand.NewSource(cfg.Seed)), cfg: cfg}
	return g.scenario(), nil
}

type generator struct {
	rng *rand.Rand
	cfg Config
}

func (g *generator) scenario() *Scenario {
	s := &Scenario{Tenant: g.cfg.Tenant, Expected: make(map[int]Expectation)}
	s.Accounts = g.accounts()

	homonyms := make(map[string]bool)
	for i := 0; i < g.cfg.Homonyms; i++ {
		homonyms[s.Accounts[2*i].ID] = true
		homonyms[s.Accounts[2*i+1].ID] = true
	}

	for i := 0; i < g.cfg.Rows; i++ {
		// Data rows start on line 2, below the header.
		rowNumber := i + 2
		acct := s.Accounts[g.rng.Intn(len(s.Accounts))]
		kind := g.pickKind()
		if homonyms[acct.ID] {
			kind = KindHomonym
		}

		payer, exp := g.payer(kind, acct)
		s.Rows = append(s.Rows, models.ReconciliationRow{
			RowNumber: rowNumber,
			PayerRaw:  payer,
			Amount:    g.amount(),
			Reference: fmt.Sprintf("CUOTA %02d", g.rng.Intn(12)+1),
			Date:      g.cfg.StartDate.AddDate(0, 0, g.rng.Intn(28)),
		})
		s.Expected[rowNumber] = exp
	}
	return s
}

// accounts draws distinct names; the first Homonyms pairs share a name.
func (g *generator) accounts() []Account {
	used := make(map[string]bool)
	usedAlternates := make(map[string]bool)
	accounts := make([]Account, 0, g.cfg.Accounts)
	for len(accounts) < g.cfg.Accounts {
		n := len(accounts)
		if n < 2*g.cfg.Homonyms && n%2 == 1 {
			twin := accounts[n-1]
			accounts = append(accounts, Account{
				ID:        fmt.Sprintf("acct-%04d", n+1),
				Surname:   twin.Surname,
				GivenName: twin.GivenName,
			})
			continue
		}

		surname := surnames[g.rng.Intn(len(surnames))]
		given := givenNames[g.rng.Intn(len(givenNames))]
		if used[surname+given] {
			continue
		}
		used[surname+given] = true

		a := Account{ID: fmt.Sprintf("acct-%04d", n+1), Surname: surname, GivenName: given}
		if n >= 2*g.cfg.Homonyms && g.rng.Float64() < 0.2 {
			// A tutor pays for the account. Each tutor pays for one account only.
			alt := fmt.Sprintf("%s, %s", tutorSurnames[g.rng.Intn(len(tutorSurnames))], tutorGivenNames[g.rng.Intn(len(tutorGivenNames))])
			if !usedAlternates[alt] {
				usedAlternates[alt] = true
				a.Alternate = alt
			}
		}
		accounts = append(accounts, a)
	}
	return accounts
}

func (g *generator) pickKind() Kind {
	r := g.rng.Float64()
	for _, k := range []struct {
		kind  Kind
		share float64
	}{
		{KindReordered, g.cfg.Reordered},
		{KindAccented, g.cfg.Accented},
		{KindTypo, g.cfg.Typo},
		{KindAlternate, g.cfg.Alternate},
		{KindUnknown, g.cfg.Unknown},
	} {
		if r < k.share {
			return k.kind
		}
		r -= k.share
	}
	return KindExact
}

func (g *generator) payer(kind Kind, a Account) (string, Expectation) {
	matched := Expectation{Kind: kind, AccountID: a.ID, Status: models.StatusMatched}

	switch kind {
	case KindReordered:
		return strings.ToUpper(a.GivenName + " " + a.Surname), matched
	case KindAccented:
		return accent(a.Surname) + ", " + strings.ToLower(a.GivenName) + ".", matched
	case KindTypo:
		return strings.ToUpper(typo(g.rng, a.Surname) + " " + a.GivenName), Expectation{Kind: kind, AccountID: a.ID}
	case KindAlternate:
		if a.Alternate == "" {
			return strings.ToUpper(a.FullName()), Expectation{Kind: KindExact, AccountID: a.ID, Status: models.StatusMatched}
		}
		return strings.ToUpper(a.Alternate), matched
	case KindHomonym:
		return strings.ToUpper(a.FullName()), Expectation{Kind: kind, AccountID: a.ID, Status: models.StatusReview}
	case KindUnknown:
		name := unknownSurnames[g.rng.Intn(len(unknownSurnames))] + " " + unknownGivenNames[g.rng.Intn(len(unknownGivenNames))]
		return name, Expectation{Kind: kind, Status: models.StatusUnmatched}
	}
	return strings.ToUpper(a.FullName()), matched
}

func (g *generator) amount() decimal.Decimal {
	return decimal.New(int64(g.rng.Intn(90_000)+1_000), -2)
}

var accented = strings.NewReplacer("A", "Á", "E", "É", "I", "Í", "O", "Ó", "U", "Ú", "N", "Ñ")

// accent upper-cases s and puts marks on its vowels and Ns; normalizing the
// result gives back the plain upper-case name.
func accent(s string) string {
	return accented.Replace(strings.ToUpper(s))
}

// typo removes one inner letter of s, or swaps two neighbours.
func typo(rng *rand.Rand, s string) string {
	r := []rune(s)
	if len(r) < 4 {
		return s
	}
	i := 1 + rng.Intn(len(r)-2)
	if rng.Intn(2) == 0 {
		return string(append(r[:i:i], r[i+1:]...))
	}
	r[i], r[i+1] = r[i+1], r[i]
	return string(r)
}

// WriteRoster writes the accounts as a roster CSV.
func (s *Scenario) WriteRoster(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "surname", "given_name", "alternates"}); err != nil {
		return err
	}
	for _, a := range s.Accounts {
		if err := cw.Write([]string{a.ID, a.Surname, a.GivenName, a.Alternate}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteStatement writes the rows in the given statement layout. Bank exports
// get comma decimals and the layout's day-first dates.
func (s *Scenario) WriteStatement(w io.Writer, layout *parsers.StatementParserConfig) error {
	if layout == nil {
		layout = parsers.StandardStatementConfig
	}
	dateFormat := layout.DateFormat
	if dateFormat == "" {
		dateFormat = "2006-01-02"
	}
	commaDecimals := layout.Delimiter == ';'

	cw := csv.NewWriter(w)
	cw.Comma = layout.Delimiter
	header := []string{layout.PayerColumn, layout.AmountColumn, layout.ReferenceColumn, layout.DateColumn}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range s.Rows {
		amount := row.Amount.StringFixed(2)
		if commaDecimals {
			amount = strings.Replace(amount, ".", ",", 1)
		}
		if err := cw.Write([]string{row.PayerRaw, amount, row.Reference, row.Date.Format(dateFormat)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSeed writes the seed pairs as a YAML seed file.
func (s *Scenario) WriteSeed(w io.Writer, actingUser string) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&parsers.SeedFile{
		Tenant:     s.Tenant,
		ActingUser: actingUser,
		Pairs:      s.SeedPairs(),
	}); err != nil {
		return err
	}
	return enc.Close()
}

// Name pools. Roster names, tutor names and unknown payers never share a word.
var (
	surnames = []string{
		"Rojas", "Gonzalez", "Lopez", "Fernandez", "Martinez", "Sosa", "Romero",
		"Castro", "Vega", "Medina", "Herrera", "Ruiz", "Benitez", "Acosta",
		"Molina", "Ortega", "Silva", "Torres", "Quiroga", "Cabrera",
	}
	givenNames = []string{
		"Maria Eugenia", "Ariel", "Mario", "Lucia", "Santiago", "Valentina",
		"Joaquin", "Camila", "Tomas", "Florencia", "Bruno", "Agustina",
		"Facundo", "Micaela", "Gaston", "Julieta",
	}
	tutorSurnames   = []string{"Paredes", "Villalba", "Ibarra", "Godoy", "Bustos", "Ledesma"}
	tutorGivenNames = []string{"Norma", "Raul", "Graciela", "Hector", "Silvina", "Osvaldo"}

	unknownSurnames   = []string{"Okafor", "Nakamura", "Wojcik", "Lindqvist", "Haddad", "Kowalczyk"}
	unknownGivenNames = []string{"Chidi", "Hiroshi", "Piotr", "Sven", "Yusuf", "Zbigniew"}
)
