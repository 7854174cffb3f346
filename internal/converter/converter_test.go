package converter

import (
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestRequestParams_Query(t *testing.T) {
	r := httptest.NewRequest("GET", "/exec?p=admin&tenant=abc&adminKey=k", nil)

	params := RequestParams(r)
	assert.Equal(t, "admin", params.Get("p"))
	assert.Equal(t, "abc", params.Get("tenant"))
	assert.Equal(t, "k", params.Get("adminKey"))
}

func TestRequestParams_PathVarsWin(t *testing.T) {
	r := httptest.NewRequest("GET", "/abc/manage?tenant=other&p=public&adminKey=k", nil)
	r = mux.SetURLVars(r, map[string]string{VarTenant: "abc", VarPage: "manage"})

	params := RequestParams(r)
	assert.Equal(t, "abc", params.Get("tenant"))
	assert.Equal(t, "manage", params.Get("page"))
	assert.Empty(t, params.Get("p"))
	assert.Equal(t, "k", params.Get("adminKey"))
}

func TestLimit(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"missing", "", 50},
		{"valid", "10", 10},
		{"clamped", "5000", 500},
		{"negative", "-1", 50},
		{"garbage", "ten", 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := url.Values{}
			if tt.raw != "" {
				params.Set("limit", tt.raw)
			}
			assert.Equal(t, tt.want, Limit(params, "limit", 50, 500))
		})
	}
}

func TestRecords(t *testing.T) {
	records := Records([]string{"id", "name"}, [][]string{
		{"e1", "Launch"},
		{"e2"},
		{"e3", "Gala", "extra"},
	})

	assert.Equal(t, []Record{
		{"id": "e1", "name": "Launch"},
		{"id": "e2", "name": ""},
		{"id": "e3", "name": "Gala"},
	}, records)

	assert.Equal(t, []Record{{"id": "e2", "name": ""}}, Filter(records, "id", "e2"))
	assert.Empty(t, Filter(records, "id", "nope"))
}
