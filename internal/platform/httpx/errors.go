// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"
)

// Sentinel errors for the transport layer.
var (
	ErrBadRequest = errors.New("malformed request")
	ErrForbidden  = errors.New("forbidden")
)

// Mapping turns a class of errors into one problem status.
type Mapping struct {
	Match  func(error) bool
	Status int
	Title  string
}

// Is matches errors wrapping any of targets.
func Is(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	}
}

// Responder maps errors to RFC7807 responses. Mappings are tried in order;
// unmatched errors become 500 and are logged.
type Responder struct {
	logger   *slog.Logger
	mappings []Mapping
}

// NewResponder builds a responder. The transport sentinels are always mapped.
func NewResponder(logger *slog.Logger, mappings ...Mapping) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	base := []Mapping{
		{Match: Is(ErrBadRequest), Status: http.StatusBadRequest, Title: "Bad Request"},
		{Match: Is(ErrForbidden), Status: http.StatusForbidden, Title: "Forbidden"},
	}
	return &Responder{logger: logger, mappings: append(base, mappings...)}
}

// Error writes the problem for err.
func (rs *Responder) Error(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range rs.mappings {
		if m.Match(err) {
			Problem(w, m.Status, m.Title, err.Error())
			return
		}
	}
	rs.logger.Error("request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Any("error", err))
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
