package platform

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/specialistvlad/stagegrid/internal/inputs"
	"github.com/specialistvlad/stagegrid/internal/model"
	"github.com/specialistvlad/stagegrid/internal/session"
	"github.com/specialistvlad/stagegrid/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

type fakeWorkflow struct {
	version int
	state   string
	body    map[string]any
	stages  []string
	inputs  map[string]json.RawMessage
}

// fakeAPI is a minimal stand-in for the platform API with edit-version
// checking on addStage and update.
type fakeAPI struct {
	mu        sync.Mutex
	seq       int
	workflows map[string]*fakeWorkflow
	folders   map[string]bool
	objects   map[string][]map[string]string
	routes    []string
	auth      []string
}

func newFakeAPI(t *testing.T) (*fakeAPI, *Client) {
	t.Helper()
	api := &fakeAPI{
		workflows: map[string]*fakeWorkflow{},
		folders:   map[string]bool{},
		objects:   map[string][]map[string]string{},
	}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	c := New(Options{BaseURL: srv.URL, Token: "secret", Timeout: 5 * time.Second})
	t.Cleanup(func() { _ = c.Shutdown() })
	return api, c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func apiError(w http.ResponseWriter, status int, typ, msg string) {
	writeJSON(w, status, map[string]any{"error": map[string]string{"type": typ, "message": msg}})
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes = append(f.routes, r.URL.Path)
	f.auth = append(f.auth, r.Header.Get("Authorization"))

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apiError(w, http.StatusBadRequest, "InvalidInput", "body is not JSON")
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 {
		apiError(w, http.StatusNotFound, "ResourceNotFound", "no route")
		return
	}
	target, method := parts[0], parts[1]

	switch {
	case target == "workflow" && method == "new":
		f.seq++
		id := fmt.Sprintf("workflow-%d", f.seq)
		f.workflows[id] = &fakeWorkflow{state: "open", body: body, inputs: map[string]json.RawMessage{}}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "editVersion": 0})
	case target == "system" && method == "resolveDataObjects":
		q := body["objects"].([]any)[0].(map[string]any)
		key := fmt.Sprintf("%s:%s/%s", q["project"], q["folder"], q["name"])
		writeJSON(w, http.StatusOK, map[string]any{"results": []any{f.objects[key]}})
	case method == "newFolder":
		key := target + ":" + body["folder"].(string)
		if f.folders[key] {
			apiError(w, http.StatusBadRequest, "InvalidInput", "folder already exists")
			return
		}
		f.folders[key] = true
		writeJSON(w, http.StatusOK, map[string]any{"id": target})
	default:
		f.workflowRoute(w, target, method, body)
	}
}

func (f *fakeAPI) workflowRoute(w http.ResponseWriter, id, method string, body map[string]any) {
	wf, ok := f.workflows[id]
	if !ok {
		apiError(w, http.StatusNotFound, "ResourceNotFound", id+" not found")
		return
	}
	if method == "describe" {
		stages := []map[string]string{}
		for _, s := range wf.stages {
			stages = append(stages, map[string]string{"id": s})
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "editVersion": wf.version, "state": wf.state, "stages": stages})
		return
	}
	if wf.state == "closed" {
		apiError(w, http.StatusUnprocessableEntity, "InvalidState", "workflow is closed")
		return
	}
	if method == "close" {
		wf.state = "closed"
		writeJSON(w, http.StatusOK, map[string]any{"id": id})
		return
	}
	if v, _ := body["editVersion"].(float64); int(v) != wf.version {
		apiError(w, http.StatusUnprocessableEntity, "InvalidState", "editVersion mismatch")
		return
	}
	switch method {
	case "addStage":
		f.seq++
		stage := fmt.Sprintf("stage-%d", f.seq)
		wf.stages = append(wf.stages, stage)
		wf.version++
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "editVersion": wf.version, "stage": stage})
	case "update":
		for stageID, upd := range body["stages"].(map[string]any) {
			raw, _ := json.Marshal(upd.(map[string]any)["input"])
			wf.inputs[stageID] = raw
		}
		wf.version++
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "editVersion": wf.version})
	default:
		apiError(w, http.StatusNotFound, "ResourceNotFound", "no method "+method)
	}
}

func TestClient_SessionAgainstAPI(t *testing.T) {
	ctx, _ := testutil.Context(t)
	api, c := newFakeAPI(t)
	s := session.New(c, session.Options{Project: "project-1", Folder: "/wf"})

	details := cty.ObjectVal(map[string]cty.Value{"name": cty.StringVal("germline"), "version": cty.StringVal("1.0.0")})
	h, err := s.Create(ctx, "germline", model.Metadata{Details: details, Tags: []string{"dev"}})
	require.NoError(t, err)

	st0, err := s.AttachStage(ctx, h, "applet-a", "/out")
	require.NoError(t, err)
	st1, err := s.AttachStage(ctx, h, "applet-b", "/out")
	require.NoError(t, err)

	in := inputs.InputMap{
		"bams":  cty.TupleVal([]cty.Value{inputs.StageLinkValue(st0.ID, "bam")}),
		"depth": cty.NumberIntVal(30),
	}
	require.NoError(t, s.BindInputs(ctx, h, st1, in))
	require.NoError(t, s.Seal(ctx, h))

	wf := api.workflows[h.ID]
	assert.Equal(t, "closed", wf.state)
	assert.Equal(t, 3, wf.version)
	assert.Equal(t, "project-1", wf.body["project"])
	assert.Equal(t, "germline", wf.body["title"])
	assert.Equal(t, map[string]any{"name": "germline", "version": "1.0.0"}, wf.body["details"])
	assert.JSONEq(t,
		fmt.Sprintf(`{"bams":[{"$dnanexus_link":{"stage":%q,"outputField":"bam"}}],"depth":30}`, st0.ID),
		string(wf.inputs[st1.ID]))

	for _, a := range api.auth {
		assert.Equal(t, "Bearer secret", a)
	}
}

func TestClient_StaleVersionIsAConflict(t *testing.T) {
	ctx, _ := testutil.Context(t)
	_, c := newFakeAPI(t)

	id, _, err := c.NewWorkflow(ctx, session.NewWorkflowRequest{Name: "wf", Project: "project-1"})
	require.NoError(t, err)

	_, _, err = c.AddStage(ctx, id, 7, session.AddStageRequest{Executable: "applet-a"})
	require.ErrorIs(t, err, session.ErrStaleVersion)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "InvalidState", apiErr.Type)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
}

func TestClient_ClosedIsSealed(t *testing.T) {
	ctx, _ := testutil.Context(t)
	_, c := newFakeAPI(t)

	id, _, err := c.NewWorkflow(ctx, session.NewWorkflowRequest{Name: "wf", Project: "project-1"})
	require.NoError(t, err)
	require.NoError(t, c.Close(ctx, id))

	desc, err := c.Describe(ctx, id)
	require.NoError(t, err)
	assert.True(t, desc.Closed)
	assert.ErrorIs(t, c.Close(ctx, id), session.ErrSealed)
}

func TestClient_NotFound(t *testing.T) {
	ctx, _ := testutil.Context(t)
	_, c := newFakeAPI(t)

	_, err := c.Describe(ctx, "workflow-nope")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestClient_ResolveLink(t *testing.T) {
	ctx, _ := testutil.Context(t)
	api, c := newFakeAPI(t)
	api.objects["project-1:/ref/genome.fa"] = []map[string]string{{"project": "project-1", "id": "file-G"}}
	api.objects["project-1:/ref/dup.fa"] = []map[string]string{
		{"project": "project-1", "id": "file-1"},
		{"project": "project-1", "id": "file-2"},
	}

	v, err := c.ResolveLink(ctx, model.ObjectRef{Project: "project-1", Path: "ref/genome.fa"})
	require.NoError(t, err)
	assert.True(t, v.RawEquals(inputs.ObjectLinkValue(model.ObjectRef{ID: "file-G", Project: "project-1"})))

	routes := len(api.routes)
	v, err = c.ResolveLink(ctx, model.ObjectRef{ID: "file-X"})
	require.NoError(t, err)
	assert.True(t, v.RawEquals(inputs.ObjectLinkValue(model.ObjectRef{ID: "file-X"})))
	assert.Len(t, api.routes, routes, "id references need no API call")

	_, err = c.ResolveLink(ctx, model.ObjectRef{Project: "project-1", Path: "/ref/missing.fa"})
	assert.ErrorContains(t, err, "no object")
	_, err = c.ResolveLink(ctx, model.ObjectRef{Project: "project-1", Path: "/ref/dup.fa"})
	assert.ErrorContains(t, err, "2 objects")
}

func TestClient_EnsureFolder(t *testing.T) {
	ctx, _ := testutil.Context(t)
	api, c := newFakeAPI(t)

	require.NoError(t, c.EnsureFolder(ctx, "project-1", "/apps"))
	require.NoError(t, c.EnsureFolder(ctx, "project-1", "/apps"))
	assert.True(t, api.folders["project-1:/apps"])
	assert.Equal(t, []string{"/project-1/newFolder", "/project-1/newFolder"}, api.routes)
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify(&APIError{Status: http.StatusConflict}), session.ErrStaleVersion)
	assert.ErrorIs(t, classify(&APIError{Status: 422, Type: "InvalidState", Message: "Supplied editVersion is stale"}), session.ErrStaleVersion)
	assert.ErrorIs(t, classify(&APIError{Status: 422, Type: "InvalidState", Message: "Workflow is closed"}), session.ErrSealed)

	err := classify(&APIError{Status: 401, Type: "InvalidAuthentication", Message: "token expired"})
	assert.NotErrorIs(t, err, session.ErrStaleVersion)
	assert.EqualError(t, err, "platform: HTTP 401: InvalidAuthentication: token expired")
}
