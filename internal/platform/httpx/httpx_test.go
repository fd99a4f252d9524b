package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errGone = errors.New("gone")

func TestResponderMapsInOrder(t *testing.T) {
	rs := NewResponder(nil, Mapping{Match: Is(errGone), Status: http.StatusGone, Title: "Gone"})
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("wrap: %w", errGone), http.StatusGone},
		{fmt.Errorf("%w: eof", ErrBadRequest), http.StatusBadRequest},
		{ErrForbidden, http.StatusForbidden},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		rs.Error(rr, httptest.NewRequest(http.MethodGet, "/x", nil), tc.err)
		require.Equal(t, tc.status, rr.Code, tc.err.Error())

		var p ProblemDetail
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&p))
		assert.Equal(t, tc.status, p.Status)
		if tc.status == http.StatusInternalServerError {
			assert.Empty(t, p.Detail, "internal errors are not leaked")
		}
	}
}

func TestDecodeJSONIsStrict(t *testing.T) {
	var dst struct {
		Amount int64 `json:"amount"`
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount": 5}`))
	require.NoError(t, DecodeJSON(rr, req, &dst))
	assert.EqualValues(t, 5, dst.Amount)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount": 5, "extra": 1}`))
	assert.ErrorIs(t, DecodeJSON(rr, req, &dst), ErrBadRequest)
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	assert.ErrorIs(t, DecodeJSON(rr, req, &dst), ErrBadRequest)
}
