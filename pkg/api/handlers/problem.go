// Package handlers provides the HTTP handlers for the Pictor API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pictorhq/pictor/pkg/authz"
	"github.com/pictorhq/pictor/pkg/request"
	"github.com/pictorhq/pictor/pkg/store/object"
	"github.com/pictorhq/pictor/pkg/upload"
)

// Problem represents an RFC 7807 "problem details" response.
// https://tools.ietf.org/html/rfc7807
type Problem struct {
	// Type is a URI reference that identifies the problem type.
	// If not set, defaults to "about:blank".
	Type string `json:"type,omitempty"`

	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`

	// Status is the HTTP status code for this occurrence of the problem.
	Status int `json:"status"`

	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`

	// Code carries a machine-readable error code when one applies.
	Code string `json:"code,omitempty"`
}

// ContentTypeProblemJSON is the Content-Type for RFC 7807 problem responses.
const ContentTypeProblemJSON = "application/problem+json"

// WriteProblem writes an RFC 7807 problem response.
func WriteProblem(w http.ResponseWriter, status int, title, detail string) {
	writeProblemBody(w, &Problem{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func writeProblemBody(w http.ResponseWriter, p *Problem) {
	w.Header().Set("Content-Type", ContentTypeProblemJSON)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// BadRequest writes a 400 Bad Request problem response.
func BadRequest(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusBadRequest, "Bad Request", detail)
}

// Unauthorized writes a 401 Unauthorized problem response.
func Unauthorized(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// Forbidden writes a 403 problem response carrying the authorization error
// code.
func Forbidden(w http.ResponseWriter, detail string) {
	writeProblemBody(w, &Problem{
		Type:   "about:blank",
		Title:  "Forbidden",
		Status: http.StatusForbidden,
		Detail: detail,
		Code:   "AUTHORIZATION_ERROR",
	})
}

// NotFound writes a 404 Not Found problem response.
func NotFound(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusNotFound, "Not Found", detail)
}

// PayloadTooLarge writes a 413 problem response.
func PayloadTooLarge(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", detail)
}

// InternalError writes a 500 problem response. The detail stays generic so
// upstream failures do not leak internals.
func InternalError(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "internal server error"
	}
	WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", detail)
}

// WriteError maps a domain error onto the appropriate problem response.
func WriteError(w http.ResponseWriter, err error) {
	var authErr *authz.Error
	if errors.As(err, &authErr) {
		writeProblemBody(w, &Problem{
			Type:   "about:blank",
			Title:  "Forbidden",
			Status: authErr.Status,
			Detail: authErr.Message,
			Code:   authErr.Code,
		})
		return
	}

	var transErr *request.InvalidTransitionError
	if errors.As(err, &transErr) {
		BadRequest(w, transErr.Error())
		return
	}

	if errors.Is(err, request.ErrNotFound) {
		NotFound(w, "Request not found")
		return
	}

	switch upload.KindOf(err) {
	case upload.KindNotFound:
		NotFound(w, err.Error())
		return
	case upload.KindInvalidInput:
		BadRequest(w, err.Error())
		return
	case upload.KindPayloadTooLarge:
		PayloadTooLarge(w, err.Error())
		return
	case upload.KindOutOfOrder, upload.KindSizeMismatch,
		upload.KindInvalidArchive, upload.KindChecksumMismatch:
		// Integrity failures surface with their diagnostic message.
		InternalError(w, err.Error())
		return
	case upload.KindInternal:
		InternalError(w, "")
		return
	}

	if object.IsNotFound(err) {
		NotFound(w, "Object not found")
		return
	}

	InternalError(w, "")
}
