package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"taxpilot/internal/browser"
	"taxpilot/internal/config"
	"taxpilot/internal/extract"
	"taxpilot/internal/fill"
	"taxpilot/internal/review"
	"taxpilot/internal/schema"
	"taxpilot/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFiller scripts the orchestrator surface.
type fakeFiller struct {
	result  FillResult
	err     error
	entries []extract.SlipEntry
	removed []schema.SlipType
	fields  []browser.SlipField
}

func (f *fakeFiller) Fill(_ context.Context, userID string, entry extract.SlipEntry) (FillResult, error) {
	f.entries = append(f.entries, entry)
	if f.err != nil {
		return FillResult{}, f.err
	}
	return f.result, nil
}

func (f *fakeFiller) RemoveSlip(_ context.Context, userID string, slipType schema.SlipType, issuer string, taxYear int) error {
	f.removed = append(f.removed, slipType)
	return f.err
}

func (f *fakeFiller) ReadSlip(_ context.Context, slipType schema.SlipType, issuer string, taxYear int) ([]browser.SlipField, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.fields, nil
}

func newTestServer(t *testing.T, filler FillService) (*Server, *gin.Engine, *store.SessionStore) {
	t.Helper()
	cfg := config.Default()
	cfg.Server.JWTSecret = "test-secret"

	reg, err := schema.Load()
	require.NoError(t, err)

	st, err := store.NewSessionStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	normalizer := extract.NewNormalizer(reg, cfg.Return.MinYear, cfg.Return.MaxYear, cfg.Return.ActiveYear)
	summarizer := review.NewSummarizer(reg, st)

	srv := New(cfg, normalizer, filler, summarizer, nil)
	return srv, srv.Router(), st
}

func bearerFor(t *testing.T, srv *Server, userID string) string {
	t.Helper()
	token, _, err := GenerateToken(userID, &srv.cfg.Server)
	require.NoError(t, err)
	return "Bearer " + token
}

func doJSON(router *gin.Engine, method, path, auth string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthIsPublic(t *testing.T) {
	_, router, _ := newTestServer(t, &fakeFiller{})
	w := doJSON(router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTurnRequiresAuth(t *testing.T) {
	_, router, _ := newTestServer(t, &fakeFiller{})

	w := doJSON(router, http.MethodPost, "/api/v1/turns", "", gin.H{"utterance": "hi"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/turns", "Bearer not-a-token", gin.H{"utterance": "hi"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRejectsUnexpectedSigningMethod(t *testing.T) {
	_, router, _ := newTestServer(t, &fakeFiller{})

	// Correct secret, wrong algorithm: must not authenticate.
	claims := Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS384, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	w := doJSON(router, http.MethodGet, "/api/v1/returns/2024/summary", "Bearer "+token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTokenMintAndUse(t *testing.T) {
	_, router, _ := newTestServer(t, &fakeFiller{result: FillResult{Status: fill.StatusVerifiedMatch}})

	w := doJSON(router, http.MethodPost, "/auth/token", "", gin.H{"user_id": "user-1"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	w = doJSON(router, http.MethodGet, "/api/v1/returns/2024/summary", "Bearer "+resp.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTurnWithCandidate(t *testing.T) {
	filler := &fakeFiller{result: FillResult{TaskID: "t1", Status: fill.StatusVerifiedMatch, Attempts: 1}}
	srv, router, _ := newTestServer(t, filler)

	w := doJSON(router, http.MethodPost, "/api/v1/turns", bearerFor(t, srv, "user-1"), gin.H{
		"candidate": extract.Candidate{
			SlipTypeText: "T4",
			BoxText:      "14",
			AmountText:   "$5,000.00",
			IssuerText:   "Acme",
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Len(t, filler.entries, 1)
	entry := filler.entries[0]
	assert.Equal(t, schema.SlipType("T4"), entry.SlipType)
	assert.Equal(t, "14", entry.Box)
	assert.Equal(t, extract.Cents(500000), entry.Amount)
	assert.Equal(t, 2024, entry.TaxYear, "active year fills in when unstated")

	var resp struct {
		Result FillResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, fill.StatusVerifiedMatch, resp.Result.Status)
}

func TestTurnNeedsClarification(t *testing.T) {
	filler := &fakeFiller{}
	srv, router, _ := newTestServer(t, filler)

	w := doJSON(router, http.MethodPost, "/api/v1/turns", bearerFor(t, srv, "user-1"), gin.H{
		"candidate": extract.Candidate{
			SlipTypeText: "T4",
			BoxText:      "99",
			AmountText:   "100.00",
		},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp struct {
		Clarify extract.NeedsClarification `json:"needs_clarification"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, extract.ReasonUnknownBoxNumber, resp.Clarify.Reason)
	assert.Empty(t, filler.entries, "invalid candidates never reach the orchestrator")
}

func TestTurnUtteranceWithoutNLU(t *testing.T) {
	srv, router, _ := newTestServer(t, &fakeFiller{})

	w := doJSON(router, http.MethodPost, "/api/v1/turns", bearerFor(t, srv, "user-1"), gin.H{
		"utterance": "my T4 box 14 is 5000",
	})
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestTurnQueueFull(t *testing.T) {
	srv, router, _ := newTestServer(t, &fakeFiller{err: fill.ErrQueueFull})

	w := doJSON(router, http.MethodPost, "/api/v1/turns", bearerFor(t, srv, "user-1"), gin.H{
		"candidate": extract.Candidate{SlipTypeText: "T4", BoxText: "14", AmountText: "1.00"},
	})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestSummaryAndHistory(t *testing.T) {
	srv, router, st := newTestServer(t, &fakeFiller{})

	require.NoError(t, st.Append(store.Outcome{
		UserID: "user-1", TaxYear: 2024, SlipType: "T4", Box: "14",
		Amount: 500000, Status: store.StatusVerifiedMatch,
	}))

	auth := bearerFor(t, srv, "user-1")

	w := doJSON(router, http.MethodGet, "/api/v1/returns/2024/summary", auth, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sum review.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, 1, sum.Entries)

	w = doJSON(router, http.MethodGet, "/api/v1/returns/2024/history", auth, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Another user sees an empty return.
	w = doJSON(router, http.MethodGet, "/api/v1/returns/2024/summary", bearerFor(t, srv, "user-2"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Zero(t, sum.Entries)
}

func TestYearBounds(t *testing.T) {
	srv, router, _ := newTestServer(t, &fakeFiller{})
	auth := bearerFor(t, srv, "user-1")

	w := doJSON(router, http.MethodGet, "/api/v1/returns/1999/summary", auth, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodGet, "/api/v1/returns/abc/summary", auth, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRemoveSlip(t *testing.T) {
	filler := &fakeFiller{}
	srv, router, _ := newTestServer(t, filler)

	w := doJSON(router, http.MethodDelete, "/api/v1/returns/2024/slips/t4?issuer=Acme", bearerFor(t, srv, "user-1"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, filler.removed, 1)
	assert.Equal(t, schema.SlipType("T4"), filler.removed[0])
}

func TestRemoveSlipNotFound(t *testing.T) {
	srv, router, _ := newTestServer(t, &fakeFiller{err: fill.ErrSlipNotFound})

	w := doJSON(router, http.MethodDelete, "/api/v1/returns/2024/slips/T4", bearerFor(t, srv, "user-1"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReadSlip(t *testing.T) {
	filler := &fakeFiller{fields: []browser.SlipField{
		{Title: "Employment income", Box: "14", Value: "5000.00"},
	}}
	srv, router, _ := newTestServer(t, filler)

	w := doJSON(router, http.MethodGet, "/api/v1/returns/2024/slips/T4?issuer=Acme", bearerFor(t, srv, "user-1"), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Fields []browser.SlipField `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Fields, 1)
	assert.Equal(t, "14", resp.Fields[0].Box)
}
