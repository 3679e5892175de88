package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compliancerag/types"
)

type fakeIngestor struct {
	gotPath  string
	gotDocID string
	report   *types.Report
	err      error
}

func (f *fakeIngestor) Ingest(_ context.Context, filePath, docID string) (*types.Report, error) {
	f.gotPath = filePath
	f.gotDocID = docID
	return f.report, f.err
}

type fakeRetriever struct {
	gotQuery   string
	gotTopK    int
	gotRerankK int
	chunks     []types.RetrievedChunk
	err        error
}

func (f *fakeRetriever) Retrieve(_ context.Context, queryText string, topK, rerankK int) ([]types.RetrievedChunk, error) {
	f.gotQuery = queryText
	f.gotTopK = topK
	f.gotRerankK = rerankK
	return f.chunks, f.err
}

type fakeGenerator struct {
	answer string
	err    error
}

func (f *fakeGenerator) Generate(_ context.Context, _ []types.RetrievedChunk, _ string) (string, error) {
	return f.answer, f.err
}

type fakeDocStore struct {
	entries map[string]*types.ManifestEntry
	counts  map[string]int
}

func (f *fakeDocStore) Load(_ context.Context, docID string) (*types.ManifestEntry, error) {
	return f.entries[docID], nil
}

func (f *fakeDocStore) CountByDoc(_ context.Context, docID string) (int, error) {
	return f.counts[docID], nil
}

type testDeps struct {
	ingestor  *fakeIngestor
	retriever *fakeRetriever
	generator *fakeGenerator
	docs      *fakeDocStore
}

func newTestApp(t *testing.T, deps testDeps) *fiber.App {
	t.Helper()
	if deps.ingestor == nil {
		deps.ingestor = &fakeIngestor{}
	}
	if deps.retriever == nil {
		deps.retriever = &fakeRetriever{}
	}
	if deps.generator == nil {
		deps.generator = &fakeGenerator{}
	}
	if deps.docs == nil {
		deps.docs = &fakeDocStore{}
	}

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	h := NewRequestHandler(deps.ingestor, deps.retriever, deps.generator, deps.docs, deps.docs, t.TempDir())
	app.Post("/api/v1/ingest", h.HandleIngest)
	app.Post("/api/v1/query", h.HandleQuery)
	app.Get("/api/v1/docs/:doc_id", h.HandleDocStatus)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func multipartUpload(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func TestHandleQuery(t *testing.T) {
	ret := &fakeRetriever{chunks: []types.RetrievedChunk{
		{ID: "c1", Document: "Appeals must be filed within 30 days.", Distance: 0.1},
	}}
	gen := &fakeGenerator{answer: "Within 30 days of the notice date."}
	app := newTestApp(t, testDeps{retriever: ret, generator: gen})

	resp := postJSON(t, app, "/api/v1/query", fiber.Map{
		"query_text": "deadline for appeals",
		"top_k":      7,
		"rerank_k":   2,
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var qr types.QueryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&qr))
	assert.Equal(t, "deadline for appeals", qr.Query)
	assert.Equal(t, "Within 30 days of the notice date.", qr.Answer)
	require.Len(t, qr.Sources, 1)
	assert.Equal(t, "c1", qr.Sources[0].ID)

	assert.Equal(t, 7, ret.gotTopK)
	assert.Equal(t, 2, ret.gotRerankK)
}

func TestHandleQueryDefaults(t *testing.T) {
	ret := &fakeRetriever{chunks: []types.RetrievedChunk{{ID: "c1", Document: "x"}}}
	app := newTestApp(t, testDeps{retriever: ret, generator: &fakeGenerator{answer: "ok"}})

	resp := postJSON(t, app, "/api/v1/query", fiber.Map{"query_text": "anything"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 5, ret.gotTopK)
	assert.Equal(t, 3, ret.gotRerankK)
}

func TestHandleQueryMissingText(t *testing.T) {
	app := newTestApp(t, testDeps{})

	resp := postJSON(t, app, "/api/v1/query", fiber.Map{"top_k": 5})
	require.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	var ve ValidationError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ve))
	assert.Contains(t, ve.Errors, "QueryText")
}

func TestHandleQueryNoResults(t *testing.T) {
	app := newTestApp(t, testDeps{})

	resp := postJSON(t, app, "/api/v1/query", fiber.Map{"query_text": "nothing matches"})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHandleQueryIndexUnavailable(t *testing.T) {
	ret := &fakeRetriever{err: types.ErrIndexUnavailable}
	app := newTestApp(t, testDeps{retriever: ret})

	resp := postJSON(t, app, "/api/v1/query", fiber.Map{"query_text": "anything"})
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
}

func TestHandleIngest(t *testing.T) {
	ing := &fakeIngestor{report: &types.Report{
		DocID:       "penalty-notice",
		Status:      types.StatusCompleted,
		TotalChunks: 4,
	}}
	app := newTestApp(t, testDeps{ingestor: ing})

	body, contentType := multipartUpload(t, "penalty-notice.txt", "some document text", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	// doc_id defaults to the file stem.
	assert.Equal(t, "penalty-notice", ing.gotDocID)
	assert.True(t, strings.HasSuffix(ing.gotPath, "_penalty-notice.txt"))

	var out struct {
		Message string       `json:"message"`
		Report  types.Report `json:"report"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, types.StatusCompleted, out.Report.Status)
	assert.Equal(t, 4, out.Report.TotalChunks)
}

func TestHandleIngestExplicitDocID(t *testing.T) {
	ing := &fakeIngestor{report: &types.Report{DocID: "custom-id", Status: types.StatusCompleted}}
	app := newTestApp(t, testDeps{ingestor: ing})

	body, contentType := multipartUpload(t, "upload.txt", "text", map[string]string{"doc_id": "custom-id"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "custom-id", ing.gotDocID)
}

func TestHandleIngestMissingFile(t *testing.T) {
	app := newTestApp(t, testDeps{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader(""))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandleIngestEmptyDocument(t *testing.T) {
	ing := &fakeIngestor{
		report: &types.Report{DocID: "blank", Status: types.StatusFailedEmpty},
		err:    types.ErrEmptyDocument,
	}
	app := newTestApp(t, testDeps{ingestor: ing})

	body, contentType := multipartUpload(t, "blank.txt", "", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	var out struct {
		Error  string       `json:"error"`
		Report types.Report `json:"report"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, types.StatusFailedEmpty, out.Report.Status)
}

func TestHandleDocStatus(t *testing.T) {
	entry := types.NewManifestEntry("penalty-notice")
	entry.Status = types.StatusCompletedWithErrors
	entry.Chunks["k1"] = types.ChunkRecord{Status: types.ChunkCompleted}
	entry.Chunks["k2"] = types.ChunkRecord{Status: types.ChunkUpsertFailed}

	docs := &fakeDocStore{
		entries: map[string]*types.ManifestEntry{"penalty-notice": entry},
		counts:  map[string]int{"penalty-notice": 1},
	}
	app := newTestApp(t, testDeps{docs: docs})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/docs/penalty-notice", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out struct {
		DocID         string          `json:"doc_id"`
		Status        types.DocStatus `json:"status"`
		TotalChunks   int             `json:"total_chunks"`
		IndexedChunks int             `json:"indexed_chunks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "penalty-notice", out.DocID)
	assert.Equal(t, types.StatusCompletedWithErrors, out.Status)
	assert.Equal(t, 2, out.TotalChunks)
	assert.Equal(t, 1, out.IndexedChunks)
}

func TestHandleDocStatusUnknown(t *testing.T) {
	app := newTestApp(t, testDeps{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/docs/nope", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
