package apierr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"not found", NotFoundf("pano %s missing", "abc"), NotFound},
		{"invalid state", InvalidStatef("bad state"), InvalidState},
		{"invalid argument", InvalidArgumentf("bad arg"), InvalidArgument},
		{"outside geofence", OutsideGeofencef("out of bounds"), OutsideGeofence},
		{"unavailable wraps cause", Unavailablef(errors.New("timeout"), "fetch failed"), Unavailable},
		{"internal wraps cause", Internalf(errors.New("boom"), "render failed"), Internal},
		{"plain error defaults to internal", errors.New("plain"), Internal},
		{"wrapped via fmt.Errorf still resolves", fmt.Errorf("layer: %w", NotFoundf("x")), NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestMessage(t *testing.T) {
	err := NotFoundf("pano %s missing", "abc123")
	assert.Equal(t, "pano abc123 missing", Message(err))

	plain := errors.New("raw error text")
	assert.Equal(t, "raw error text", Message(plain))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("upstream 503")
	err := Unavailablef(cause, "fetch tile")
	require.ErrorIs(t, err, cause)
}

func TestErrorStringIncludesKindAndMessage(t *testing.T) {
	err := InvalidStatef("session %s already ended", "sess-1")
	assert.Contains(t, err.Error(), "invalid_state")
	assert.Contains(t, err.Error(), "session sess-1 already ended")
}
