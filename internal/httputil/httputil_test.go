package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcom-dev/vlnbench/internal/apierr"
)

func TestRespondJSONWritesStatusAndBody(t *testing.T) {
	w := httptest.NewRecorder()
	RespondJSON(w, http.StatusCreated, map[string]string{"ok": "true"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "true", body["ok"])
}

func TestRespondErrorMapsKindToStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", apierr.NotFoundf("pano %s missing", "x"), http.StatusNotFound},
		{"invalid state", apierr.InvalidStatef("bad state"), http.StatusBadRequest},
		{"invalid argument", apierr.InvalidArgumentf("bad arg"), http.StatusBadRequest},
		{"outside geofence", apierr.OutsideGeofencef("out of bounds"), http.StatusForbidden},
		{"unavailable", apierr.Unavailablef(errors.New("upstream down"), "fetch failed"), http.StatusServiceUnavailable},
		{"internal", apierr.Internalf(errors.New("boom"), "internal failure"), http.StatusInternalServerError},
		{"untyped error defaults to internal", errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			RespondError(w, tt.err)
			assert.Equal(t, tt.wantStatus, w.Code)

			var body errorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Kind)
			assert.NotEmpty(t, body.Message)
		})
	}
}
