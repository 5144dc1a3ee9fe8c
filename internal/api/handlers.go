package api

import (
	"bufio"
	"io"
	"net/http"
	"strings"
	"time"

	"payer-reconciliation-service/internal/models"
	"payer-reconciliation-service/internal/parsers"
	"payer-reconciliation-service/internal/reconciler"
	"payer-reconciliation-service/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// RowRequest is one statement row in a reconciliation request.
type RowRequest struct {
	RowNumber int             `json:"row_number"`
	Payer     string          `json:"payer"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
	Date      string          `json:"date"`
}

// ReconcileRequest carries the rows of one batch. An empty list yields an
// empty batch.
type ReconcileRequest struct {
	Rows []RowRequest `json:"rows"`
}

// DecisionsRequest replays operator decisions against a batch returned
// earlier by the reconciliations route.
type DecisionsRequest struct {
	Batch     *models.Batch         `json:"batch" binding:"required"`
	Decisions []reconciler.Decision `json:"decisions" binding:"required,dive"`
}

// SeedRequest bulk-loads client/payer pairs.
type SeedRequest struct {
	Pairs      []reconciler.SeedPair `json:"pairs" binding:"required,dive"`
	ActingUser string                `json:"acting_user"`
}

// RosterEntryRequest is one account of a roster upload. FullName is used
// when Surname and GivenName are both empty.
type RosterEntryRequest struct {
	ID         string   `json:"id" binding:"required"`
	Surname    string   `json:"surname"`
	GivenName  string   `json:"given_name"`
	FullName   string   `json:"full_name"`
	Alternates []string `json:"alternates"`
}

// RosterRequest replaces a tenant's roster.
type RosterRequest struct {
	Entries []RosterEntryRequest `json:"entries" binding:"required,dive"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) reconcile(c *gin.Context) {
	var req ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	rows := make([]models.ReconciliationRow, 0, len(req.Rows))
	for i, r := range req.Rows {
		date, err := models.ParseDate(r.Date)
		if err != nil {
			respondError(c, errors.ValidationError(errors.CodeInvalidDate, "date", r.Date, err).
				WithContext("row", i))
			return
		}
		number := r.RowNumber
		if number == 0 {
			number = i + 1
		}
		rows = append(rows, models.ReconciliationRow{
			RowNumber: number,
			PayerRaw:  r.Payer,
			Amount:    r.Amount,
			Reference: r.Reference,
			Date:      date,
		})
	}

	batch, err := s.runner.Run(c.Request.Context(), c.Param(tenantParam), rows)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

// reconcileUpload parses a CSV or XLSX statement sent as the "statement"
// form file. The optional "layout" form value picks a statement layout;
// without it the layout is detected from the headers of CSV files.
func (s *Server) reconcileUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxUploadBytes)

	header, err := c.FormFile("statement")
	if err != nil {
		respondError(c, errors.ValidationError(errors.CodeMissingField, "statement", nil, err).
			WithSuggestion("Send the statement as multipart form file 'statement'"))
		return
	}
	format, err := parsers.DetectFormat(header.Filename)
	if err != nil || format == parsers.FormatYAML {
		respondError(c, errors.FileError(errors.CodeUnsupportedFile, header.Filename, err).
			WithSuggestion("Upload a .csv or .xlsx statement"))
		return
	}

	layout := strings.TrimSpace(c.PostForm("layout"))
	var config *parsers.StatementParserConfig
	if layout != "" {
		if config = parsers.GetStatementConfig(layout); config == nil {
			respondError(c, errors.ValidationError(errors.CodeInvalidData, "layout", layout, nil))
			return
		}
	}

	file, err := header.Open()
	if err != nil {
		respondError(c, errors.FileError(errors.CodeFilePermission, header.Filename, err))
		return
	}
	defer file.Close()

	var reader io.Reader = file
	if config == nil {
		config = parsers.StandardStatementConfig
		if format == parsers.FormatCSV {
			br := bufio.NewReader(file)
			config = parsers.SniffStatementConfig(br)
			reader = br
		}
	}
	parser, err := parsers.NewStatementParser(config)
	if err != nil {
		respondError(c, errors.ConfigurationError(errors.CodeInvalidConfig, "layout", config.Name, err))
		return
	}

	var src parsers.RecordSource
	if format == parsers.FormatXLSX {
		if src, err = parser.NewXLSXSource(reader); err != nil {
			respondError(c, err)
			return
		}
	} else {
		src = parser.NewCSVSource(reader)
	}
	defer src.Close()

	rows, stats, err := parser.ParseFrom(c.Request.Context(), src, header.Filename)
	if err != nil {
		respondError(c, err)
		return
	}

	batch, err := s.runner.Run(c.Request.Context(), c.Param(tenantParam), rows)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"batch": batch,
		"parse": gin.H{
			"records":      stats.RecordsParsed,
			"valid":        stats.RecordsValid,
			"error_count":  stats.ErrorCount,
			"sample_error": stats.GetSampleErrors(20),
		},
	})
}

func (s *Server) applyDecisions(c *gin.Context) {
	var req DecisionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if req.Batch.TenantID != c.Param(tenantParam) {
		respondError(c, errors.ValidationError(errors.CodeInvalidData, "batch.tenant_id", req.Batch.TenantID, nil).
			WithSuggestion("Replay decisions under the tenant that produced the batch"))
		return
	}

	report, err := s.runner.ApplyDecisions(c.Request.Context(), req.Batch, req.Decisions)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) confirm(c *gin.Context) {
	var req reconciler.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	req.TenantID = c.Param(tenantParam)

	out, err := s.runner.Confirm(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	status := statusForOutcome(out.Outcome)
	if out.Outcome == reconciler.OutcomeCommitted {
		status = http.StatusCreated
	}
	c.JSON(status, out)
}

func (s *Server) reassign(c *gin.Context) {
	var req reconciler.ReassignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	req.TenantID = c.Param(tenantParam)

	out, err := s.runner.Reassign(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(statusForOutcome(out.Outcome), out)
}

func (s *Server) reject(c *gin.Context) {
	var req reconciler.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	req.TenantID = c.Param(tenantParam)

	out, err := s.runner.Reject(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(statusForOutcome(out.Outcome), out)
}

func (s *Server) seed(c *gin.Context) {
	var req SeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	report, err := s.runner.Seed(c.Request.Context(), c.Param(tenantParam), req.Pairs, req.ActingUser)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) listAliases(c *gin.Context) {
	tenant := c.Param(tenantParam)
	aliases, err := s.aliases.ListAliases(c.Request.Context(), tenant)
	if err != nil {
		respondError(c, errors.WrapIfNeeded(err, errors.CategoryProvider, errors.CodeStoreUnavailable, "list aliases"))
		return
	}

	if account := c.Query("account_id"); account != "" {
		filtered := make([]*models.PayerAlias, 0, len(aliases))
		for _, a := range aliases {
			if a.AccountID == account {
				filtered = append(filtered, a)
			}
		}
		aliases = filtered
	}
	if aliases == nil {
		aliases = []*models.PayerAlias{}
	}
	c.JSON(http.StatusOK, gin.H{
		"tenant_id": tenant,
		"count":     len(aliases),
		"aliases":   aliases,
	})
}

func (s *Server) replaceRoster(c *gin.Context) {
	if s.rosters == nil {
		respondError(c, errors.ConfigurationError(errors.CodeMissingConfig, "roster_writer", nil, nil).
			WithSuggestion("This store does not accept roster uploads"))
		return
	}

	var req RosterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	tenant := c.Param(tenantParam)
	entries := make([]*models.RosterEntry, 0, len(req.Entries))
	seen := make(map[string]bool, len(req.Entries))
	for i, e := range req.Entries {
		entry := rosterEntry(e)
		if err := entry.Validate(); err != nil {
			respondError(c, errors.ValidationError(errors.CodeInvalidData, "entries", e.ID, err).WithContext("index", i))
			return
		}
		if seen[entry.ID] {
			respondError(c, errors.ValidationError(errors.CodeInvalidData, "entries.id", entry.ID, nil).
				WithSuggestion("Account ids must be unique within a roster"))
			return
		}
		seen[entry.ID] = true
		entries = append(entries, entry)
	}

	if err := s.rosters.ReplaceRoster(c.Request.Context(), tenant, entries); err != nil {
		respondError(c, errors.WrapIfNeeded(err, errors.CategoryProvider, errors.CodeRosterUnavailable, "replace roster"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenant, "count": len(entries)})
}

func rosterEntry(e RosterEntryRequest) *models.RosterEntry {
	surname, given := e.Surname, e.GivenName
	if strings.TrimSpace(surname) == "" && strings.TrimSpace(given) == "" {
		surname = e.FullName
	}
	return models.NewRosterEntry(e.ID, surname, given, e.Alternates...)
}
