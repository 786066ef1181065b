package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedCounter struct{ total, identified int }

func (c fixedCounter) Count() (int, int) { return c.total, c.identified }

func TestSocketStatus(t *testing.T) {
	r := chi.NewRouter()
	New(fixedCounter{total: 3, identified: 2}).RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/socket/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body socketStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "running", body.Status)
	assert.Equal(t, 3, body.Connections)
	assert.Equal(t, 2, body.Identified)
}

func TestHealth(t *testing.T) {
	r := chi.NewRouter()
	New(fixedCounter{}).RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
