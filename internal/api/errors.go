package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/jobstream/internal/api/shared"
	"github.com/phrazzld/jobstream/internal/job"
	"github.com/phrazzld/jobstream/internal/store"
	"github.com/phrazzld/jobstream/internal/task"
)

// ErrJobFinished is returned when a cancel targets a job that already ended.
var ErrJobFinished = errors.New("job already finished")

// errInvalidPathID is returned for a missing or malformed job id in the path.
var errInvalidPathID = errors.New("invalid job id")

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking internal error types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, store.ErrDuplicate),
		errors.Is(err, ErrJobFinished):
		return http.StatusConflict

	case errors.Is(err, task.ErrUnknownKind),
		errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, job.ErrInvalidJob),
		errors.Is(err, errInvalidPathID):
		return http.StatusBadRequest

	case errors.Is(err, task.ErrQueueUnavailable):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a user-facing message for err.
func GetSafeErrorMessage(err error) string {
	switch {
	case err == nil:
		return "An unexpected error occurred"
	case errors.Is(err, store.ErrNotFound):
		return "Job not found"
	case errors.Is(err, store.ErrDuplicate):
		return "Job already exists"
	case errors.Is(err, ErrJobFinished):
		return "Job already finished"
	case errors.Is(err, task.ErrUnknownKind):
		return "Unknown job type"
	case errors.Is(err, store.ErrInvalidEntity), errors.Is(err, job.ErrInvalidJob):
		return "Invalid job data"
	case errors.Is(err, errInvalidPathID):
		return "Invalid job id"
	case errors.Is(err, task.ErrQueueUnavailable):
		return "Job queue unavailable, retry later"
	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the mapped status and safe message for err and logs
// the redacted details.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
}

// SanitizeValidationError turns validator output into a short message that
// names the first offending field.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("Invalid %s: %s", jsonFieldName(fe.Field()), getValidationTagMessage(fe.Tag()))
	}
	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	case "json":
		return "must be valid JSON"
	default:
		return "validation failed"
	}
}

// jsonFieldName converts a Go field name such as ResourceType to resource_type.
func jsonFieldName(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
