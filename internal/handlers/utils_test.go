package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jjudge-oj/authserver/internal/services"
)

func TestWriteServiceErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{fmt.Errorf("%w: x", services.ErrBadRequest), http.StatusBadRequest, "BadRequest"},
		{fmt.Errorf("%w: x", services.ErrUnauthorized), http.StatusUnauthorized, "Unauthorized"},
		{fmt.Errorf("%w: x", services.ErrForbidden), http.StatusForbidden, "Forbidden"},
		{fmt.Errorf("%w: x", services.ErrNotFound), http.StatusNotFound, "NotFound"},
		{fmt.Errorf("%w: x", services.ErrConflict), http.StatusConflict, "Conflict"},
		{fmt.Errorf("%w: x", services.ErrAlreadyVerified), http.StatusConflict, "AlreadyVerified"},
		{fmt.Errorf("%w: x", services.ErrInvalidCode), http.StatusBadRequest, "InvalidCode"},
		{fmt.Errorf("%w: x", services.ErrExpired), http.StatusGone, "Expired"},
		{fmt.Errorf("%w: db down", services.ErrUnavailable), http.StatusServiceUnavailable, "Unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeServiceError(rec, tc.err)
		if rec.Code != tc.status {
			t.Fatalf("%v: status %d, want %d", tc.err, rec.Code, tc.status)
		}

		var body ErrorResponse
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Kind != tc.kind {
			t.Fatalf("%v: kind %q, want %q", tc.err, body.Kind, tc.kind)
		}
		if tc.status >= 500 && (body.Error == tc.err.Error()) {
			t.Fatalf("%v: internal detail leaked in %q", tc.err, body.Error)
		}
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"", "", false},
		{"Bearer abc", "abc", true},
		{"bearer   abc ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		token, err := bearerToken(req)
		if (err == nil) != tc.ok || token != tc.token {
			t.Fatalf("header %q: got %q %v", tc.header, token, err)
		}
	}
}
