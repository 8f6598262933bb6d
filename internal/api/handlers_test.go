package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sha1n/ace-mcp-api/internal/apierror"
	"github.com/sha1n/ace-mcp-api/internal/codeindex"
	"github.com/sha1n/ace-mcp-api/internal/config"
	"github.com/sha1n/ace-mcp-api/internal/domain"
)

const testMaxBody = 4096

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	svc, err := codeindex.NewService(&config.SearchSettings{
		DefaultLimit:    10,
		MaxLimit:        100,
		Workers:         2,
		ChunkSize:       8,
		CacheSize:       8,
		FullTextEnabled: true,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	mux := http.NewServeMux()
	RegisterRoutes(mux, NewHandlers(svc, "1.2.3"), testMaxBody)
	return mux
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestRootAndHealth(t *testing.T) {
	mux := newTestMux(t)

	rec := do(t, mux, "GET", "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	root := decode[RootResponse](t, rec)
	assert.Equal(t, ServiceName, root.Service)
	assert.Equal(t, "1.2.3", root.Version)
	assert.Equal(t, "running", root.Status)
	assert.Equal(t, "/api/v1/search", root.Endpoints["search"])

	rec = do(t, mux, "GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 0, health.IndexedProjects)
	assert.Equal(t, 0, health.TotalBlobs)

	rec = do(t, mux, "GET", "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterRoutes_CoexistsWithCatchAllPath(t *testing.T) {
	mux := newTestMux(t)
	require.NotPanics(t, func() {
		mux.Handle("/sse", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))
	})

	assert.Equal(t, http.StatusTeapot, do(t, mux, "GET", "/sse", "").Code)
	assert.Equal(t, http.StatusTeapot, do(t, mux, "POST", "/sse", "").Code)
	assert.Equal(t, http.StatusOK, do(t, mux, "GET", "/", "").Code)
}

func TestIndexAndSearch_Acme(t *testing.T) {
	mux := newTestMux(t)

	rec := do(t, mux, "POST", "/api/v1/index", `{
		"project_id": "acme",
		"batch_id": 3,
		"blobs": [
			{"file_path": "src/auth.py", "content": "def login(user):\n    return token", "start_line": 1, "language": "python"},
			{"path": "src/login.py", "content": "login login"}
		]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	idx := decode[IndexResponse](t, rec)
	assert.Equal(t, "success", idx.Status)
	assert.Equal(t, "acme", idx.ProjectID)
	require.NotNil(t, idx.BatchID)
	assert.Equal(t, 3, *idx.BatchID)
	assert.Equal(t, 2, idx.IndexedCount)
	assert.Equal(t, 2, idx.TotalBlobs)
	assert.Equal(t, []string{
		domain.ReceiptID("acme", "src/auth.py"),
		domain.ReceiptID("acme", "src/login.py"),
	}, idx.BlobIDs)

	rec = do(t, mux, "POST", "/api/v1/search", `{"project_id": "acme", "query": "login"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[SearchResponse](t, rec)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, "acme", res.ProjectID)
	assert.Equal(t, "keyword", res.Mode)
	require.Len(t, res.Results, 2)
	// "login login" in src/login.py: 2*10 + 1*5
	assert.Equal(t, "src/login.py", res.Results[0].FilePath)
	assert.Equal(t, 25.0, res.Results[0].Score)
	assert.Equal(t, "src/auth.py", res.Results[1].FilePath)
	assert.Equal(t, 1, res.Results[1].StartLine)
	assert.Equal(t, 2, res.Results[1].EndLine)
	assert.Equal(t, "python", res.Results[1].Language)
}

func TestIndex_OverwriteSameKey(t *testing.T) {
	mux := newTestMux(t)

	for _, content := range []string{"first version", "second version"} {
		body := `{"project_id":"acme","blobs":[{"file_path":"a.py","content":"` + content + `","start_line":5}]}`
		rec := do(t, mux, "POST", "/batch-upload", body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, 1, decode[IndexResponse](t, rec).TotalBlobs)
	}

	rec := do(t, mux, "POST", "/api/v1/search", `{"project_id":"acme","query":"version"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[SearchResponse](t, rec)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "second version", res.Results[0].Content)
}

func TestIndex_ProjectInference(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "leading segment", path: "acme/src/main.go", want: "acme"},
		{name: "no separator", path: "main.go", want: DefaultProjectID},
		{name: "absolute path", path: "/src/main.go", want: DefaultProjectID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newTestMux(t)
			rec := do(t, mux, "POST", "/api/v1/index", `{"blobs":[{"file_path":"`+tt.path+`","content":"x"}]}`)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, tt.want, decode[IndexResponse](t, rec).ProjectID)
		})
	}
}

func TestIndex_ValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{name: "no blobs", body: `{"project_id":"acme","blobs":[]}`, wantField: "blobs"},
		{name: "empty body", body: ``, wantField: "blobs"},
		{name: "missing content", body: `{"blobs":[{"file_path":"a.go"}]}`, wantField: "blobs[0].content"},
		{name: "missing path", body: `{"blobs":[{"content":"x"}]}`, wantField: "blobs[0].file_path"},
		{name: "conflicting paths", body: `{"blobs":[{"content":"x","file_path":"a.go","path":"b.go"}]}`, wantField: "blobs[0].path"},
		{name: "negative start", body: `{"blobs":[{"content":"x","file_path":"a.go","start_line":-1}]}`, wantField: "blobs[0].start_line"},
		{name: "end before start", body: `{"blobs":[{"content":"x","file_path":"a.go","start_line":5,"end_line":2}]}`, wantField: "blobs[0].end_line"},
		{name: "unknown field", body: `{"blobs":[],"extra":true}`, wantField: "extra"},
		{name: "wrong type", body: `{"batch_id":"seven","blobs":[]}`, wantField: "batch_id"},
		{name: "malformed json", body: `{"blobs":`, wantField: "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newTestMux(t)
			rec := do(t, mux, "POST", "/api/v1/index", tt.body)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

			resp := decode[apierror.Response](t, rec)
			assert.Equal(t, apierror.CodeValidationFailed, resp.Error.Code)

			fields, ok := resp.Details["errors"].([]any)
			require.True(t, ok, "expected errors detail, got %v", resp.Details)
			var names []string
			for _, f := range fields {
				names = append(names, f.(map[string]any)["field"].(string))
			}
			assert.Contains(t, names, tt.wantField)

			if tt.body != "" {
				assert.Equal(t, tt.body, resp.Details["payload"])
			}
		})
	}
}

func TestIndex_PayloadEchoTruncated(t *testing.T) {
	mux := newTestMux(t)
	body := `{"blobs":[],"pad":"` + strings.Repeat("x", 1000) + `"}`

	rec := do(t, mux, "POST", "/api/v1/index", body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[apierror.Response](t, rec)
	assert.Len(t, resp.Details["payload"], apierror.MaxPayloadEcho)
}

func TestIndex_PayloadTooLarge(t *testing.T) {
	mux := newTestMux(t)
	body := `{"blobs":[{"file_path":"a","content":"` + strings.Repeat("x", testMaxBody) + `"}]}`

	rec := do(t, mux, "POST", "/api/v1/index", body)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, apierror.CodePayloadTooLarge, decode[apierror.Response](t, rec).Error.Code)
}

func TestSearch_UnknownProject(t *testing.T) {
	mux := newTestMux(t)

	rec := do(t, mux, "POST", "/api/v1/search", `{"project_id":"ghost","query":"x"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	res := decode[SearchResponse](t, rec)
	assert.Equal(t, 0, res.Total)
	assert.NotNil(t, res.Results)
	assert.Empty(t, res.Results)
	assert.Contains(t, rec.Body.String(), `"results":[]`)
}

func TestSearch_Validation(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{name: "missing project", body: `{"query":"x"}`, wantField: "project_id"},
		{name: "bad mode", body: `{"project_id":"acme","query":"x","mode":"vector"}`, wantField: "mode"},
		{name: "limit type", body: `{"project_id":"acme","query":"x","limit":"ten"}`, wantField: "limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newTestMux(t)
			rec := do(t, mux, "POST", "/api/v1/search", tt.body)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Contains(t, rec.Body.String(), `"field":"`+tt.wantField+`"`)
		})
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	mux := newTestMux(t)
	rec := do(t, mux, "POST", "/api/v1/index", `{"project_id":"acme","blobs":[{"content":"def login(): pass","file_path":"src/auth.py"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for _, body := range []string{
		`{"project_id":"acme"}`,
		`{"project_id":"acme","query":"  "}`,
		`{"project_id":"acme","query":"","mode":"fulltext"}`,
	} {
		rec = do(t, mux, "POST", "/api/v1/search", body)
		require.Equal(t, http.StatusOK, rec.Code, body)
		resp := decode[SearchResponse](t, rec)
		assert.Empty(t, resp.Results, body)
		assert.NotNil(t, resp.Results, body)
		assert.Equal(t, 0, resp.Total, body)
	}
}

func TestSearch_LimitAndMode(t *testing.T) {
	mux := newTestMux(t)

	rec := do(t, mux, "POST", "/api/v1/index", `{"project_id":"acme","blobs":[
		{"file_path":"a.go","content":"alpha handler"},
		{"file_path":"b.go","content":"beta handler"},
		{"file_path":"c.go","content":"gamma handler"}
	]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, mux, "POST", "/api/v1/search", `{"project_id":"acme","query":"handler","limit":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[SearchResponse](t, rec).Total)

	rec = do(t, mux, "POST", "/api/v1/search", `{"project_id":"acme","query":"handler","limit":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[SearchResponse](t, rec).Total)

	rec = do(t, mux, "POST", "/api/v1/search", `{"project_id":"acme","query":"beta","mode":"fulltext"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[SearchResponse](t, rec)
	assert.Equal(t, "fulltext", res.Mode)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "b.go", res.Results[0].FilePath)
}

func TestRetrieve(t *testing.T) {
	mux := newTestMux(t)

	rec := do(t, mux, "POST", "/api/v1/retrieve", `{"query":"token"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[RetrieveResponse](t, rec)
	assert.Equal(t, "No relevant code found for query: token", res.Formatted)
	assert.Equal(t, 0, res.Total)

	do(t, mux, "POST", "/api/v1/index", `{"project_id":"acme","blobs":[{"file_path":"auth.go","content":"token"}]}`)
	do(t, mux, "POST", "/api/v1/index", `{"project_id":"globex","blobs":[{"file_path":"x.go","content":"token token"}]}`)

	rec = do(t, mux, "POST", "/api/v1/retrieve", `{"query":"token"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res = decode[RetrieveResponse](t, rec)
	require.Equal(t, 2, res.Total)
	assert.Equal(t, "globex", res.Results[0].ProjectID)
	assert.Equal(t, "acme", res.Results[1].ProjectID)
	assert.True(t, strings.HasPrefix(res.Formatted, "Found 2 relevant code snippets for 'token':\n\n### 1. x.go\n"))

	rec = do(t, mux, "POST", "/api/v1/retrieve", `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestProjects_Lifecycle(t *testing.T) {
	mux := newTestMux(t)

	rec := do(t, mux, "GET", "/api/v1/projects", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListProjectsResponse](t, rec)
	assert.Equal(t, 0, list.Total)
	assert.NotNil(t, list.Projects)

	rec = do(t, mux, "GET", "/api/v1/projects/acme", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode[apierror.Response](t, rec)
	assert.Equal(t, apierror.CodeNotFound, resp.Error.Code)
	assert.Equal(t, "Project not found", resp.Error.Message)

	do(t, mux, "POST", "/api/v1/index", `{"project_id":"acme","blobs":[
		{"file_path":"a.go","content":"x"},
		{"file_path":"a.go","content":"y","start_line":20},
		{"file_path":"b.go","content":"z"}
	]}`)
	do(t, mux, "POST", "/api/v1/index", `{"project_id":"globex","blobs":[{"file_path":"a.go","content":"x"}]}`)

	rec = do(t, mux, "GET", "/api/v1/projects/acme", "")
	require.Equal(t, http.StatusOK, rec.Code)
	project := decode[ProjectResponse](t, rec)
	assert.Equal(t, "acme", project.ID)
	assert.Equal(t, 3, project.BlobCount)
	assert.NotNil(t, project.LastIndexed)

	rec = do(t, mux, "GET", "/api/v1/projects", "")
	list = decode[ListProjectsResponse](t, rec)
	require.Equal(t, 2, list.Total)
	assert.Equal(t, "acme", list.Projects[0].ID)
	assert.Equal(t, "globex", list.Projects[1].ID)

	rec = do(t, mux, "DELETE", "/api/v1/projects/acme", "")
	require.Equal(t, http.StatusOK, rec.Code)
	deleted := decode[DeleteProjectResponse](t, rec)
	assert.Equal(t, "success", deleted.Status)
	assert.Equal(t, 3, deleted.DeletedBlobs)

	rec = do(t, mux, "DELETE", "/api/v1/projects/acme", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, mux, "GET", "/health", "")
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, 1, health.IndexedProjects)
	assert.Equal(t, 1, health.TotalBlobs)
}

func TestInferProjectID(t *testing.T) {
	assert.Equal(t, "acme", InferProjectID("acme/a/b.go"))
	assert.Equal(t, "acme", InferProjectID("acme/"))
	assert.Equal(t, DefaultProjectID, InferProjectID("file.go"))
	assert.Equal(t, DefaultProjectID, InferProjectID("/abs/file.go"))
	assert.Equal(t, DefaultProjectID, InferProjectID(""))
}
