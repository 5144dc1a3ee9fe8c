package parsers

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Logical column names.
const (
	ColumnPayer      = "payer"
	ColumnAmount     = "amount"
	ColumnReference  = "reference"
	ColumnDate       = "date"
	ColumnID         = "id"
	ColumnSurname    = "surname"
	ColumnGivenName  = "given_name"
	ColumnFullName   = "full_name"
	ColumnAlternates = "alternates"
	ColumnClient     = "client"
)

// defaultAliases are the header spellings accepted for each logical column on
// top of the configured header name.
var defaultAliases = map[string][]string{
	ColumnPayer:      {"payer", "payer_name", "pagador", "nombre", "name", "ordenante", "titular", "cardholder", "description", "descripcion"},
	ColumnAmount:     {"amount", "importe", "monto", "valor", "credit", "credito"},
	ColumnReference:  {"reference", "ref", "referencia", "concepto", "memo", "detalle"},
	ColumnDate:       {"date", "fecha", "fecha_pago", "posting_date", "value_date"},
	ColumnID:         {"id", "account_id", "client_id", "player_id", "id_cliente", "socio"},
	ColumnSurname:    {"surname", "last_name", "apellido", "apellidos"},
	ColumnGivenName:  {"given_name", "first_name", "nombre", "nombres"},
	ColumnFullName:   {"full_name", "display_name", "name", "nombre_completo"},
	ColumnAlternates: {"alternates", "alternate_names", "tutor", "tutores", "aliases"},
	ColumnClient:     {"client", "client_name", "cliente", "jugador", "player"},
}

// StatementParserConfig describes the layout of a bank or card statement.
type StatementParserConfig struct {
	Name            string `json:"name" yaml:"name"`
	PayerColumn     string `json:"payer_column" yaml:"payer_column"`
	AmountColumn    string `json:"amount_column" yaml:"amount_column"`
	ReferenceColumn string `json:"reference_column" yaml:"reference_column"`
	DateColumn      string `json:"date_column" yaml:"date_column"`
	// DateFormat is a Go time layout. Empty means the day-first formats
	// understood by models.ParseDate.
	DateFormat  string `json:"date_format,omitempty" yaml:"date_format,omitempty"`
	HasHeader   bool   `json:"has_header" yaml:"has_header"`
	Delimiter   rune   `json:"delimiter" yaml:"delimiter"`
	Sheet       string `json:"sheet,omitempty" yaml:"sheet,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// ColumnAliases adds header spellings per logical column.
	ColumnAliases map[string][]string `json:"column_aliases,omitempty" yaml:"column_aliases,omitempty"`
}

// Validate checks if the statement configuration is valid
func (c *StatementParserConfig) Validate() error {
	if strings.TrimSpace(c.PayerColumn) == "" {
		return fmt.Errorf("payer column cannot be empty")
	}
	if strings.TrimSpace(c.AmountColumn) == "" {
		return fmt.Errorf("amount column cannot be empty")
	}
	if c.Delimiter == 0 {
		return fmt.Errorf("delimiter cannot be empty")
	}
	return nil
}

func (c *StatementParserConfig) columns() []Column {
	return []Column{
		column(ColumnPayer, c.PayerColumn, c.ColumnAliases, true),
		column(ColumnAmount, c.AmountColumn, c.ColumnAliases, true),
		column(ColumnReference, c.ReferenceColumn, c.ColumnAliases, false),
		column(ColumnDate, c.DateColumn, c.ColumnAliases, false),
	}
}

func (c *StatementParserConfig) parseConfig() *ParseConfig {
	pc := DefaultParseConfig()
	pc.HasHeader = c.HasHeader
	pc.Delimiter = c.Delimiter
	pc.Sheet = c.Sheet
	return pc
}

func column(name, header string, extra map[string][]string, required bool) Column {
	if strings.TrimSpace(header) == "" {
		header = name
	}
	aliases := append([]string(nil), extra[name]...)
	aliases = append(aliases, defaultAliases[name]...)
	return Column{Name: name, Aliases: append([]string{header}, aliases...), Required: required}
}

// Predefined statement layouts
var (
	// StandardStatementConfig is the English header layout.
	StandardStatementConfig = &StatementParserConfig{
		Name:            "standard",
		PayerColumn:     "payer",
		AmountColumn:    "amount",
		ReferenceColumn: "reference",
		DateColumn:      "date",
		HasHeader:       true,
		Delimiter:       ',',
		Description:     "Comma separated statement with payer, amount, reference and date",
	}

	// BankExportConfig matches the semicolon separated exports of local
	// home banking, with day-first dates.
	BankExportConfig = &StatementParserConfig{
		Name:            "bank-export",
		PayerColumn:     "ordenante",
		AmountColumn:    "importe",
		ReferenceColumn: "concepto",
		DateColumn:      "fecha",
		DateFormat:      "02/01/2006",
		HasHeader:       true,
		Delimiter:       ';',
		Description:     "Home banking export: ordenante;importe;concepto;fecha",
	}

	// CardSettlementConfig matches card processor settlement files.
	CardSettlementConfig = &StatementParserConfig{
		Name:            "card-settlement",
		PayerColumn:     "cardholder",
		AmountColumn:    "amount",
		ReferenceColumn: "authorization",
		DateColumn:      "settlement_date",
		HasHeader:       true,
		Delimiter:       ',',
		ColumnAliases: map[string][]string{
			ColumnReference: {"auth_code", "authorization_code"},
		},
		Description: "Card settlement with cardholder name and authorization code",
	}
)

// GetStatementConfig returns a predefined statement layout by name
func GetStatementConfig(name string) *StatementParserConfig {
	for _, c := range ListStatementConfigs() {
		if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			return c
		}
	}
	return nil
}

// ListStatementConfigs returns all predefined statement layouts
func ListStatementConfigs() []*StatementParserConfig {
	return []*StatementParserConfig{
		StandardStatementConfig,
		BankExportConfig,
		CardSettlementConfig,
	}
}

// AutoDetectStatementConfig picks the predefined layout whose configured
// payer and amount headers both appear in headers.
func AutoDetectStatementConfig(headers []string) *StatementParserConfig {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[headerKey(h)] = true
	}
	for _, c := range ListStatementConfigs() {
		if present[headerKey(c.PayerColumn)] && present[headerKey(c.AmountColumn)] {
			return c
		}
	}
	return StandardStatementConfig
}

// SniffStatementConfig peeks at the header line of a delimited statement
// without consuming it and returns the layout that matches it.
func SniffStatementConfig(r *bufio.Reader) *StatementParserConfig {
	head, _ := r.Peek(r.Size())
	line := strings.TrimPrefix(string(head), "\ufeff")
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	return AutoDetectStatementConfig(strings.FieldsFunc(line, func(c rune) bool {
		return c == ',' || c == ';' || c == '\t'
	}))
}

// DetectStatementConfig picks the layout of a statement file from its
// header line. Spreadsheets and unreadable files get the standard layout and
// fail later, when they are parsed.
func DetectStatementConfig(path string) *StatementParserConfig {
	if format, err := DetectFormat(path); err != nil || format != FormatCSV {
		return StandardStatementConfig
	}
	f, err := os.Open(path)
	if err != nil {
		return StandardStatementConfig
	}
	defer f.Close()
	return SniffStatementConfig(bufio.NewReader(f))
}

// RosterParserConfig describes a roster export. A roster needs an id and
// either surname and given name columns or a single full name column.
type RosterParserConfig struct {
	IDColumn         string `json:"id_column" yaml:"id_column"`
	SurnameColumn    string `json:"surname_column" yaml:"surname_column"`
	GivenNameColumn  string `json:"given_name_column" yaml:"given_name_column"`
	FullNameColumn   string `json:"full_name_column" yaml:"full_name_column"`
	AlternatesColumn string `json:"alternates_column" yaml:"alternates_column"`
	// AlternateSeparator splits several alternate names held in one cell.
	AlternateSeparator string `json:"alternate_separator" yaml:"alternate_separator"`
	HasHeader          bool   `json:"has_header" yaml:"has_header"`
	Delimiter          rune   `json:"delimiter" yaml:"delimiter"`
	Sheet              string `json:"sheet,omitempty" yaml:"sheet,omitempty"`
}

// DefaultRosterParserConfig returns a configuration with standard defaults
func DefaultRosterParserConfig() *RosterParserConfig {
	return &RosterParserConfig{
		IDColumn:           "id",
		SurnameColumn:      "surname",
		GivenNameColumn:    "given_name",
		FullNameColumn:     "full_name",
		AlternatesColumn:   "alternates",
		AlternateSeparator: "|",
		HasHeader:          true,
		Delimiter:          ',',
	}
}

// Validate checks if the roster configuration is valid
func (c *RosterParserConfig) Validate() error {
	if strings.TrimSpace(c.IDColumn) == "" {
		return fmt.Errorf("id column cannot be empty")
	}
	if c.AlternateSeparator == "" {
		return fmt.Errorf("alternate separator cannot be empty")
	}
	if c.Delimiter == 0 {
		return fmt.Errorf("delimiter cannot be empty")
	}
	return nil
}

func (c *RosterParserConfig) columns() []Column {
	return []Column{
		column(ColumnID, c.IDColumn, nil, true),
		column(ColumnSurname, c.SurnameColumn, nil, false),
		column(ColumnGivenName, c.GivenNameColumn, nil, false),
		column(ColumnFullName, c.FullNameColumn, nil, false),
		column(ColumnAlternates, c.AlternatesColumn, nil, false),
	}
}

func (c *RosterParserConfig) parseConfig() *ParseConfig {
	pc := DefaultParseConfig()
	pc.HasHeader = c.HasHeader
	pc.Delimiter = c.Delimiter
	pc.Sheet = c.Sheet
	return pc
}
