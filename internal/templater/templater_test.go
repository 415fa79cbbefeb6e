package templater

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/aggregator"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/template"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/templatecache"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/templatestore"
)

type fakeBuilder struct {
	calls int
	err   error
}

func (f *fakeBuilder) RunTemplates(context.Context) (*pipeline.TemplateSet, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.TemplateSet{
		RunID: "run-1",
		Scope: pipeline.ScopeType,
		Stats: aggregator.BuildStats{Built: 2, Failed: 1},
	}, nil
}

type fakeCache struct {
	invalidations int
}

func (f *fakeCache) GetOrBuild(ctx context.Context, key string, build templatecache.BuildFunc) (*template.VirtualDocumentTemplate, bool, error) {
	t, err := build(ctx)
	return t, false, err
}

func (f *fakeCache) Invalidate(context.Context) error {
	f.invalidations++
	return nil
}

type fakeReader struct {
	records map[string]templatestore.Record
	err     error
}

func (f *fakeReader) Load(_ context.Context, scope string) (*templatestore.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.records[scope]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (f *fakeReader) List(context.Context) ([]templatestore.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []templatestore.Record
	for _, r := range f.records {
		r.Template = nil
		out = append(out, r)
	}
	return out, nil
}

const personScope = "type:http://ex.org/Person"

func newTestServer(t *testing.T, reader TemplateReader, builder Builder) (*httptest.Server, *Service) {
	t.Helper()
	svc := NewService(builder, nil)
	mux := http.NewServeMux()
	NewHandler(reader, svc).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, svc
}

func TestRebuildInvalidatesCache(t *testing.T) {
	b := &fakeBuilder{}
	c := &fakeCache{}
	svc := NewService(b, c)
	assert.Nil(t, svc.Last())

	st, err := svc.Rebuild(context.Background(), "startup")
	require.NoError(t, err)
	assert.Equal(t, 1, c.invalidations)
	assert.Equal(t, "run-1", st.RunID)
	assert.Equal(t, 3, st.Built, "global template counts")
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, st, *svc.Last())
}

func TestRebuildFailureIsRecorded(t *testing.T) {
	svc := NewService(&fakeBuilder{err: errors.New("boom")}, nil)
	_, err := svc.Rebuild(context.Background(), "api")
	require.Error(t, err)
	require.NotNil(t, svc.Last())
	assert.Equal(t, "boom", svc.Last().Error)
}

func TestHandleMetricsComplete(t *testing.T) {
	b := &fakeBuilder{}
	svc := NewService(b, nil)
	ctx := context.Background()

	value, err := json.Marshal(pipeline.MetricsCompleteEvent{
		Type:      pipeline.EventMetricsComplete,
		RunID:     "metrics-7",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, svc.HandleMetricsComplete(ctx, []byte("metrics-7"), value))
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, "metrics-7", svc.Last().Trigger)

	other, err := json.Marshal(pipeline.IndexProgressEvent{Type: pipeline.EventIndexProgress})
	require.NoError(t, err)
	require.NoError(t, svc.HandleMetricsComplete(ctx, nil, other))
	require.NoError(t, svc.HandleMetricsComplete(ctx, nil, []byte("{not json")))
	assert.Equal(t, 1, b.calls)

	b.err = errors.New("store offline")
	assert.Error(t, svc.HandleMetricsComplete(ctx, nil, value))
}

func TestGetTemplate(t *testing.T) {
	tmpl := template.New(template.NewField("field0", 1))
	reader := &fakeReader{records: map[string]templatestore.Record{
		personScope: {Scope: personScope, RunID: "run-1", Source: "ir", Template: tmpl},
	}}
	srv, _ := newTestServer(t, reader, &fakeBuilder{})

	resp, err := http.Get(srv.URL + "/api/v1/templates/" + url.PathEscape(personScope))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rec templatestore.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Equal(t, personScope, rec.Scope)
	assert.True(t, tmpl.Equal(rec.Template))
}

func TestGetTemplateErrors(t *testing.T) {
	reader := &fakeReader{records: map[string]templatestore.Record{}}
	srv, _ := newTestServer(t, reader, &fakeBuilder{})

	resp, err := http.Get(srv.URL + "/api/v1/templates/global")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	reader.err = errors.New("database is locked")
	resp, err = http.Get(srv.URL + "/api/v1/templates/global")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Internal Server Error", body["error"])
}

func TestListAndRebuildEndpoints(t *testing.T) {
	reader := &fakeReader{records: map[string]templatestore.Record{
		"global": {Scope: "global", RunID: "run-1", Template: template.New()},
	}}
	srv, svc := newTestServer(t, reader, &fakeBuilder{})

	resp, err := http.Get(srv.URL + "/api/v1/templates/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/v1/templates/rebuild", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, svc.Last())
	assert.Equal(t, "api", svc.Last().Trigger)

	resp, err = http.Get(srv.URL + "/api/v1/templates")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Templates []templatestore.Record `json:"templates"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Templates, 1)
	assert.Equal(t, "global", body.Templates[0].Scope)
	assert.Nil(t, body.Templates[0].Template)
}
