// Package converter turns HTTP requests into router parameters and document
// rows into response records.
package converter

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
)

// Path variables
const (
	VarTenant = "tenant"
	VarPage   = "page"
)

// RequestParams returns the query parameters of r with path variables
// merged in. A path variable wins over a query parameter of the same name,
// and a path page also overrides the legacy "p" parameter.
func RequestParams(r *http.Request) url.Values {
	params := url.Values{}
	for k, v := range r.URL.Query() {
		params[k] = append([]string(nil), v...)
	}

	vars := mux.Vars(r)
	if tenant := vars[VarTenant]; tenant != "" {
		params.Set("tenant", tenant)
	}
	if page := vars[VarPage]; page != "" {
		params.Set("page", page)
		params.Del("p")
	}
	return params
}

// Limit parses a row limit parameter. Missing or invalid values give def;
// values above max are clamped.
func Limit(params url.Values, name string, def, max int) int {
	raw := strings.TrimSpace(params.Get(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}
