package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yojigen/ai-secretary/internal/approval"
)

type stubRevisions struct {
	revs []approval.Revision
}

func (s *stubRevisions) Month(ctx context.Context, yearMonth string) ([]approval.Revision, error) {
	return s.revs, nil
}

type stubArchiver struct {
	keys []string
}

func (s *stubArchiver) StoreTrainingExport(ctx context.Context, yearMonth, format string, data []byte) (string, error) {
	key := "revisions/" + yearMonth + "/training." + format
	s.keys = append(s.keys, key)
	return key, nil
}

func adminRouter(h *AdminRevisionsHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/admin/revisions/{yearMonth}/stats", h.Stats)
	r.Get("/admin/revisions/{yearMonth}/export", h.Export)
	return r
}

func sampleRevisions() []approval.Revision {
	return []approval.Revision{
		{
			RevisionID:      "aaaabbbbcccc",
			PendingID:       "abcd1234",
			CustomerMessage: "切り抜きをお願いします",
			OriginalText:    "承知しました。",
			Instruction:     "もっと丁寧に",
			RevisedText:     "かしこまりました。",
			YearMonth:       "2025-06",
		},
	}
}

func TestAdminRevisionsExportJSON(t *testing.T) {
	h := NewAdminRevisionsHandler(&stubRevisions{revs: sampleRevisions()}, nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/revisions/2025-06/export?format=json", nil)

	adminRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var pairs []approval.TrainingPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pairs))
	require.Len(t, pairs, 1)
	assert.Equal(t, "もっと丁寧に", pairs[0].Instruction)
}

func TestAdminRevisionsExportCSV(t *testing.T) {
	h := NewAdminRevisionsHandler(&stubRevisions{revs: sampleRevisions()}, nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/revisions/2025-06/export?format=csv", nil)

	adminRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "revision_id,"))
}

func TestAdminRevisionsExportArchives(t *testing.T) {
	archiver := &stubArchiver{}
	h := NewAdminRevisionsHandler(&stubRevisions{revs: sampleRevisions()}, archiver, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/revisions/2025-06/export?format=json&archive=true", nil)

	adminRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"revisions/2025-06/training.json"}, archiver.keys)
	assert.Equal(t, "revisions/2025-06/training.json", rec.Header().Get("X-Archive-Key"))
}

func TestAdminRevisionsRejectsBadMonth(t *testing.T) {
	h := NewAdminRevisionsHandler(&stubRevisions{}, nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/revisions/junk/export", nil)

	adminRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRevisionsStats(t *testing.T) {
	h := NewAdminRevisionsHandler(&stubRevisions{revs: sampleRevisions()}, nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/revisions/2025-06/stats", nil)

	adminRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var stats approval.Statistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.RevisionCount)
	assert.Equal(t, 1, stats.KeywordCounts["丁寧"])
}
