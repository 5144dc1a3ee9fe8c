package api

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payer-reconciliation-service/internal/matcher"
	"payer-reconciliation-service/internal/models"
	"payer-reconciliation-service/internal/reconciler"
	"payer-reconciliation-service/internal/storage"
	"payer-reconciliation-service/pkg/logger"
)

const tenant = "club-1"

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestStore() *storage.MemoryStore {
	store := storage.NewMemoryStore()
	store.PutRoster(tenant,
		models.NewRosterEntry("p1", "Rojas", "Maria Eugenia"),
		models.NewRosterEntry("p3", "Lopez", "Ariel"),
		models.NewRosterEntry("acct-100", "Gonzalez", "Mario"),
		models.NewRosterEntry("acct-200", "Gonzalez", "Mario"),
	)
	return store
}

func newTestServer(t *testing.T, aliases storage.AliasStore, rosters storage.RosterProvider, writer storage.RosterWriter) *Server {
	t.Helper()
	m, err := matcher.NewMatcher(nil, logger.Nop())
	require.NoError(t, err)
	runner, err := reconciler.NewRunner(m, aliases, rosters, nil, logger.Nop())
	require.NoError(t, err)
	srv, err := NewServer(runner, aliases, writer, nil, logger.Nop())
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reader).Encode(body))
	}
	req := httptest.NewRequest(method, path, &reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func TestHealth(t *testing.T) {
	store := newTestStore()
	srv := newTestServer(t, store, store, store)

	rec := do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))

	rec = do(t, srv, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewServerValidation(t *testing.T) {
	store := newTestStore()
	_, err := NewServer(nil, store, store, nil, logger.Nop())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.MaxUploadBytes = 0
	m, err := matcher.NewMatcher(nil, logger.Nop())
	require.NoError(t, err)
	runner, err := reconciler.NewRunner(m, store, store, nil, logger.Nop())
	require.NoError(t, err)
	_, err = NewServer(runner, store, store, cfg, logger.Nop())
	assert.Error(t, err)
}

func TestReconcile(t *testing.T) {
	store := newTestStore()
	srv := newTestServer(t, store, store, store)

	rec := do(t, srv, http.MethodPost, "/api/v1/tenants/club-1/reconciliations", ReconcileRequest{
		Rows: []RowRequest{
			{Payer: "Rojas Maria Eugenia", Date: "01/03/2024"},
			{RowNumber: 7, Payer: "GONZALEZ MARIO"},
			{Payer: ""},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var batch models.Batch
	decode(t, rec, &batch)
	require.Len(t, batch.Results, 3)
	assert.Equal(t, tenant, batch.TenantID)
	assert.Equal(t, 1, batch.Results[0].Row.RowNumber)
	assert.Equal(t, "p1", batch.Results[0].MatchedAccountID)
	assert.Equal(t, models.MatchTypeExact, batch.Results[0].MatchType)
	assert.Equal(t, 7, batch.Results[1].Row.RowNumber)
	assert.Equal(t, models.StatusReview, batch.Results[1].Status)
	assert.Len(t, batch.Results[1].Candidates, 2)
	assert.Equal(t, models.StatusUnmatched, batch.Results[2].Status)
	assert.Equal(t, 1, batch.Summary.Matched)

	rec = do(t, srv, http.MethodPost, "/api/v1/tenants/club-1/reconciliations", ReconcileRequest{})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &batch)
	assert.Empty(t, batch.Results)
}

func TestReconcileRejectsBadInput(t *testing.T) {
	store := newTestStore()
	srv := newTestServer(t, store, store, store)

	rec := do(t, srv, http.MethodPost, "/api/v1/tenants/club-1/reconciliations", ReconcileRequest{
		Rows: []RowRequest{{Payer: "X", Date: "yesterday"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp errorResponse
	decode(t, rec, &resp)
	assert.Equal(t, "invalid_date", string(resp.Error.Code))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/club-1/reconciliations", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/tenants/%20/aliases", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfirmLifecycle(t *testing.T) {
	store := newTestStore()
	srv := newTestServer(t, store, store, store)
	base := "/api/v1/tenants/club-1/aliases"

	confirm := reconciler.ConfirmRequest{NormalizedPayerKey: "meu rojas transfer", AccountID: "p1", ActingUser: "ana"}
	rec := do(t, srv, http.MethodPost, base+"/confirm", confirm)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out reconciler.ConfirmOutcome
	decode(t, rec, &out)
	assert.Equal(t, reconciler.OutcomeCommitted, out.Outcome)
	assert.Equal(t, "MEU ROJAS TRANSFER", out.NormalizedPayerKey)
	assert.Equal(t, tenant, out.TenantID)

	rec = do(t, srv, http.MethodPost, base+"/confirm", confirm)
	assert.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &out)
	assert.Equal(t, reconciler.OutcomeUnchanged, out.Outcome)

	confirm.AccountID = "p3"
	rec = do(t, srv, http.MethodPost, base+"/confirm", confirm)
	assert.Equal(t, http.StatusConflict, rec.Code)
	decode(t, rec, &out)
	assert.Equal(t, "p1", out.ExistingAccountID)

	stored, err := store.GetAlias(context.Background(), tenant, "MEU ROJAS TRANSFER")
	require.NoError(t, err)
	assert.Equal(t, "p1", stored.AccountID)

	rec = do(t, srv, http.MethodPost, base+"/reassign", reconciler.ReassignRequest{
		NormalizedPayerKey: "MEU ROJAS TRANSFER", FromAccountID: "p1", ToAccountID: "p3", ActingUser: "ana",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodPost, base+"/reassign", reconciler.ReassignRequest{
		NormalizedPayerKey: "NOBODY", FromAccountID: "p1", ToAccountID: "p3",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Count   int                  `json:"count"`
		Aliases []*models.PayerAlias `json:"aliases"`
	}
	decode(t, rec, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "p3", list.Aliases[0].AccountID)

	rec = do(t, srv, http.MethodGet, base+"?account_id=p1", nil)
	decode(t, rec, &list)
	assert.Equal(t, 0, list.Count)

	rec = do(t, srv, http.MethodPost, base+"/reject", reconciler.RejectRequest{NormalizedPayerKey: "MEU ROJAS TRANSFER", AccountID: "p3"})
	assert.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &out)
	assert.Equal(t, reconciler.OutcomeRemoved, out.Outcome)

	rec = do(t, srv, http.MethodPost, base+"/reject", reconciler.RejectRequest{NormalizedPayerKey: "MEU ROJAS TRANSFER", AccountID: "p3"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfirmValidation(t *testing.T) {
	store := newTestStore()
	srv := newTestServer(t, store, store, store)

	rec := do(t, srv, http.MethodPost, "/api/v1/tenants/club-1/aliases/confirm", map[string]string{"account_id": "p1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp errorResponse
	decode(t, rec, &resp)
	assert.Equal(t, "required", resp.Error.Fields["NormalizedPayerKey"])
}

func TestProviderFailure(t *testing.T) {
	store := &failingStore{MemoryStore: newTestStore()}
	srv := newTestServer(t, store, store, store)

	rec := do(t, srv, http.MethodPost, "/api/v1/tenants/club-1/reconciliations", ReconcileRequest{
		Rows: []RowRequest{{Payer: "Lopez Ariel"}},
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp errorResponse
	decode(t, rec, &resp)
	assert.Equal(t, "provider", string(resp.Error.Category))

	rec = do(t, srv, http.MethodPost, "/api/v1/tenants/club-1/aliases/confirm", reconciler.ConfirmRequest{NormalizedPayerKey: "X", AccountID: "p1"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// failingStore fails every alias read.
type failingStore struct {
	*storage.MemoryStore
}

func (f *failingStore) GetAlias(context.Context, string, string) (*models.PayerAlias, error) {
	return nil, stderrors.New("connection refused")
}

func TestSeed(t *testing.T) {
	store := newTestStore()
	srv := newTestServer(t, store, store, store)

	rec := do(t, srv, http.MethodPost, "/api/v1/tenants/club-1/aliases/seed", SeedRequest{
		ActingUser: "importer",
		Pairs: []reconciler.SeedPair{
			{ClientFullName: "Rojas Maria Eugenia", PayerText: "MEU ROJAS"},
			{ClientFullName: "Gonzalez Mario", PayerText: "MG"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report reconciler.SeedReport
	decode(t, rec, &report)
	assert.Equal(t, 1, report.Committed)
	assert.Equal(t, 1, report.Unresolved)

	rec = do(t, srv, http.MethodPost, "/api/v1/tenants/club-1/aliases/seed", SeedRequest{
		Pairs: []reconciler.SeedPair{{ClientFullName: "Rojas Maria Eugenia"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReplaceRoster(t *testing.T) {
	store := newTestStore()
	srv := newTestServer(t, store, store, store)

	rec := do(t, srv, http.MethodPut, "/api/v1/tenants/club-2/roster", RosterRequest{
		Entries: []RosterEntryRequest{
			{ID: "a1", Surname: "Perez", GivenName: "Ana"},
			{ID: "a2", FullName: "Diaz Juan"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodPost, "/api/v1/tenants/club-2/reconciliations", ReconcileRequest{
		Rows: []RowRequest{{Payer: "ANA PEREZ"}, {Payer: "diaz juan"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var batch models.Batch
	decode(t, rec, &batch)
	assert.Equal(t, "a1", batch.Results[0].MatchedAccountID)
	assert.Equal(t, "a2", batch.Results[1].MatchedAccountID)

	rec = do(t, srv, http.MethodPut, "/api/v1/tenants/club-2/roster", RosterRequest{
		Entries: []RosterEntryRequest{{ID: "a1", Surname: "X"}, {ID: "a1", Surname: "Y"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	noWriter := newTestServer(t, store, store, nil)
	rec = do(t, noWriter, http.MethodPut, "/api/v1/tenants/club-2/roster", RosterRequest{Entries: []RosterEntryRequest{{ID: "a1", Surname: "X"}}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func upload(t *testing.T, srv *Server, filename, content, layout string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("statement", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	if layout != "" {
		require.NoError(t, mw.WriteField("layout", layout))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/club-1/reconciliations/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

type uploadResponse struct {
	Batch models.Batch `json:"batch"`
	Parse struct {
		Valid      int `json:"valid"`
		ErrorCount int `json:"error_count"`
	} `json:"parse"`
}

func TestReconcileUpload(t *testing.T) {
	store := newTestStore()
	srv := newTestServer(t, store, store, store)
	export := "Ordenante;Importe;Concepto;Fecha\nROJAS MARIA EUGENIA;150,50;CUOTA;05/03/2024\nLOPEZ ARIEL;abc;;\n"

	for _, layout := range []string{"bank-export", ""} {
		rec := upload(t, srv, "export.csv", export, layout)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp uploadResponse
		decode(t, rec, &resp)
		require.Len(t, resp.Batch.Results, 1, "layout %q", layout)
		assert.Equal(t, "p1", resp.Batch.Results[0].MatchedAccountID)
		assert.Equal(t, 2, resp.Batch.Results[0].Row.RowNumber)
		assert.Equal(t, 1, resp.Parse.ErrorCount)
	}

	rec := upload(t, srv, "export.csv", export, "no-such-layout")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = upload(t, srv, "pairs.yaml", "pairs: []", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/club-1/reconciliations/upload", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestApplyDecisions(t *testing.T) {
	store := newTestStore()
	srv := newTestServer(t, store, store, store)

	rec := do(t, srv, http.MethodPost, "/api/v1/tenants/club-1/reconciliations", ReconcileRequest{
		Rows: []RowRequest{{Payer: "GONZALEZ MARIO"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var batch models.Batch
	decode(t, rec, &batch)

	rec = do(t, srv, http.MethodPost, "/api/v1/tenants/club-1/reconciliations/decisions", DecisionsRequest{
		Batch:     &batch,
		Decisions: []reconciler.Decision{{Row: 0, Kind: reconciler.DecisionConfirm, AccountID: "acct-200", ActingUser: "ana"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report reconciler.DecisionReport
	decode(t, rec, &report)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, reconciler.OutcomeCommitted, report.Outcomes[0].Result.Outcome)
	assert.Equal(t, 1, report.Summary.Confirmed)

	rec = do(t, srv, http.MethodPost, "/api/v1/tenants/club-9/reconciliations/decisions", DecisionsRequest{
		Batch:     &batch,
		Decisions: []reconciler.Decision{{Row: 0, Kind: reconciler.DecisionConfirm, AccountID: "acct-200"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/tenants/club-1/reconciliations/decisions", DecisionsRequest{
		Batch:     &batch,
		Decisions: []reconciler.Decision{{Row: 0, Kind: "maybe"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/tenants/club-1/reconciliations/decisions", json.RawMessage(
		`{"batch":{"tenant_id":"club-1","results":[null]},"decisions":[{"row":0,"kind":"confirm","account_id":"p1"}]}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	store := newTestStore()
	srv := newTestServer(t, store, store, store)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/tenants/club-1/aliases/confirm", nil)
	req.Header.Set("Origin", "http://client.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
