package epidata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brookslogan/nowcast-template/internal/epiweek"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("",
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithRateLimit(1000),
	)
}

func TestTruthParsesFluview(t *testing.T) {
	var gotPath string
	var gotQuery url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"result":1,"message":"success","epidata":[
			{"region":"nat","epiweek":201510,"wili":2.125},
			{"region":"nat","epiweek":201511,"wili":1.975}
		]}`))
	})

	rows, err := c.Truth(context.Background(), "nat", 201510, 201511)
	require.NoError(t, err)

	assert.Equal(t, "/fluview/", gotPath)
	assert.Equal(t, "nat", gotQuery.Get("regions"))
	assert.Equal(t, "201510-201511", gotQuery.Get("epiweeks"))
	assert.Empty(t, gotQuery.Get("auth"))

	require.Len(t, rows, 2)
	assert.Equal(t, Row{Location: "nat", Epiweek: 201510, Value: 2.125}, rows[0])
	assert.Equal(t, Row{Location: "nat", Epiweek: 201511, Value: 1.975}, rows[1])
}

func TestTrendsQueryAndValueField(t *testing.T) {
	var gotQuery url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"result":1,"message":"success","epidata":[
			{"location":"ca","epiweek":201510,"value":715.0}
		]}`))
	})

	rows, err := c.Trends(context.Background(), "ca", 201510, 201510)
	require.NoError(t, err)

	assert.Equal(t, "/m/0cycc", gotQuery.Get("query"))
	assert.Equal(t, "ca", gotQuery.Get("locations"))
	require.Len(t, rows, 1)
	assert.Equal(t, Row{Location: "ca", Epiweek: 201510, Value: 715.0}, rows[0])
}

func TestDashboardTotalField(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/nowcast_dashboard/", r.URL.Path)
		w.Write([]byte(`{"result":1,"message":"success","epidata":[
			{"location":"mn","epiweek":201510,"total":42.0}
		]}`))
	})

	rows, err := c.Dashboard(context.Background(), "mn", 201510, 201510)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 42.0, rows[0].Value)
}

func TestNoResultsIsEmptyNotError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":-2,"message":"no results","epidata":[]}`))
	})

	rows, err := c.Truth(context.Background(), "nat", 203010, 203011)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestErrorResultCode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":-1,"message":"database error"}`))
	})

	_, err := c.Truth(context.Background(), "nat", 201510, 201511)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database error")
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"result":1,"message":"success","epidata":[
			{"region":"nat","epiweek":201510,"wili":2.0}
		]}`))
	})

	rows, err := c.Truth(context.Background(), "nat", 201510, 201510)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, rows, 1)
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	})

	_, err := c.Truth(context.Background(), "nat", 201510, 201510)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAuthParam(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.URL.Query().Get("auth")
		w.Write([]byte(`{"result":1,"message":"success","epidata":[]}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient("sekrit", WithBaseURL(srv.URL), WithRateLimit(1000))
	_, err := c.Truth(context.Background(), "nat", 201510, 201510)
	require.NoError(t, err)
	assert.Equal(t, "sekrit", gotAuth)
}

func TestSkipsRecordsWithoutValues(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":1,"message":"success","epidata":[
			{"region":"nat","epiweek":201510,"wili":null},
			{"region":"nat","epiweek":201511,"wili":2.0}
		]}`))
	})

	rows, err := c.Truth(context.Background(), "nat", 201510, 201511)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, epiweek.Week(201511), rows[0].Epiweek)
}

func TestRejectsMalformedEpiweek(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":1,"message":"success","epidata":[
			{"region":"nat","epiweek":201599,"wili":2.0}
		]}`))
	})

	_, err := c.Truth(context.Background(), "nat", 201510, 201511)
	assert.Error(t, err)
}
