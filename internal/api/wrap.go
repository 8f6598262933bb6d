package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sha1n/ace-mcp-api/internal/apierror"
)

// pathBinder is implemented by requests that take values from the URL path.
type pathBinder interface {
	bindPath(r *http.Request)
}

func (r *ProjectRequest) bindPath(req *http.Request) {
	r.ProjectID = req.PathValue("id")
}

// Wrap adapts a typed handler function to an http.Handler. It limits and
// decodes the JSON body strictly, binds path values, validates the input and
// renders either the output or a structured error.
func Wrap[In any, PtrIn interface {
	*In
	Validatable
}, Out any](fn func(context.Context, PtrIn) (*Out, error), maxBodyBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		input := new(In)
		body, ok := readAndDecodeBody(ctx, w, r, input, maxBodyBytes)
		if !ok {
			return
		}

		if pb, ok := any(input).(pathBinder); ok {
			pb.bindPath(r)
		}

		if fields := PtrIn(input).Validate(); len(fields) > 0 {
			err := apierror.ValidationFailed(fields, body)
			slog.WarnContext(ctx, "Validation error", "path", r.URL.Path, "fields", len(fields))
			apierror.Write(w, err)
			return
		}

		output, err := fn(ctx, PtrIn(input))
		writeJSONResponse(ctx, w, output, err)
	})
}

// readAndDecodeBody reads the request body with a size limit and decodes it
// into input, rejecting unknown fields. An empty body leaves input zeroed.
// Returns false if an error was written to the response.
func readAndDecodeBody[In any](ctx context.Context, w http.ResponseWriter, r *http.Request, input *In, maxBodyBytes int64) ([]byte, bool) {
	if r.Body == nil {
		return nil, true
	}
	if maxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	}

	body, err := io.ReadAll(r.Body)
	if err2 := r.Body.Close(); err == nil {
		err = err2
	}
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			apierror.Write(w, apierror.PayloadTooLarge(maxBytesErr.Limit))
			return nil, false
		}
		slog.ErrorContext(ctx, "Failed to read request body", "error", err)
		apierror.Write(w, apierror.ValidationFailed([]apierror.FieldError{{Field: "body", Message: "could not be read"}}, nil))
		return nil, false
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return body, true
	}

	d := json.NewDecoder(bytes.NewReader(body))
	d.DisallowUnknownFields()
	if err := d.Decode(input); err != nil {
		slog.WarnContext(ctx, "Failed to decode request body", "error", err)
		apierror.Write(w, apierror.ValidationFailed([]apierror.FieldError{decodeFieldError(err)}, body))
		return nil, false
	}
	return body, true
}

// decodeFieldError maps a JSON decoding error to the offending field.
func decodeFieldError(err error) apierror.FieldError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := typeErr.Field
		if field == "" {
			field = "body"
		}
		return apierror.FieldError{Field: field, Message: "must be of type " + typeErr.Type.String()}
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return apierror.FieldError{Field: "body", Message: "is not valid JSON"}
	}

	// encoding/json reports unknown fields only through the message text.
	const unknownPrefix = "json: unknown field "
	if msg := err.Error(); strings.HasPrefix(msg, unknownPrefix) {
		return apierror.FieldError{Field: strings.Trim(strings.TrimPrefix(msg, unknownPrefix), `"`), Message: "is not allowed"}
	}

	return apierror.FieldError{Field: "body", Message: err.Error()}
}

// writeJSONResponse writes a JSON response or error response.
func writeJSONResponse[Out any](ctx context.Context, w http.ResponseWriter, output *Out, err error) {
	if err != nil {
		var apiErr *apierror.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode() < http.StatusInternalServerError {
			slog.DebugContext(ctx, "Handler error", "error", err, "code", apiErr.Code())
		} else {
			slog.ErrorContext(ctx, "Handler error", "error", err)
		}
		apierror.Write(w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, output)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "Failed to encode response", "error", err)
	}
}
