package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"tasktracker/core"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	connectionStringPattern = regexp.MustCompile(`(?:mongodb(?:\+srv)?|mysql|postgres|postgresql|redis)://[^\s"']+`)
	filePathPattern         = regexp.MustCompile(`(?:[A-Za-z]:\\|/)(?:[^\\/:*?"<>|\s]+[\\/])+[^\\/:*?"<>|\s]+`)
	privateIPPatterns       = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:10|127)(?:\.\d{1,3}){3}(?::\d{1,5})?\b`),
		regexp.MustCompile(`\b172\.(?:1[6-9]|2[0-9]|3[01])(?:\.\d{1,3}){2}(?::\d{1,5})?\b`),
		regexp.MustCompile(`\b192\.168(?:\.\d{1,3}){2}(?::\d{1,5})?\b`),
	}
	mongoErrorPattern = regexp.MustCompile(`\((?:ServerSelectionError|MongoError)[^\)]*\)`)
)

// errorResponse is the body of every error reply
type errorResponse struct {
	Error string `json:"error"`
}

// messageResponse is the body of replies that carry only a message
type messageResponse struct {
	Message string `json:"message"`
}

// sanitizeErrorMessage removes sensitive information from error messages before sending to clients
func sanitizeErrorMessage(message string) string {
	message = connectionStringPattern.ReplaceAllString(message, "[DATABASE_CONNECTION]")
	message = filePathPattern.ReplaceAllString(message, "[FILE_PATH]")
	for _, p := range privateIPPatterns {
		message = p.ReplaceAllString(message, "[PRIVATE_IP]")
	}
	message = mongoErrorPattern.ReplaceAllString(message, "[DATABASE_ERROR]")

	if len(message) > core.MaxErrorMessageLength {
		message = message[:core.MaxErrorMessageLength-3] + "..."
	}

	return message
}

// respondJSON writes a JSON response with proper error handling
func respondJSON(w http.ResponseWriter, data interface{}, statusCode int, logger *zap.SugaredLogger) {
	body, err := json.Marshal(data)
	if err != nil {
		logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", data))
		http.Error(w, `{"error":"Internal Server Error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		logger.Debugw("Failed to write JSON response", "error", err)
	}
}

func (a *API) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	respondJSON(w, data, statusCode, a.logger)
}

// writeError writes a JSON error response and logs the full cause
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	fields := []interface{}{"status_code", statusCode}
	if err != nil {
		fields = append(fields, "error", err.Error())
	}
	if statusCode >= http.StatusInternalServerError {
		logger.Errorw(message, fields...)
	} else {
		logger.Debugw(message, fields...)
	}

	respondJSON(w, errorResponse{Error: sanitizeErrorMessage(message)}, statusCode, logger)
}

// validateUUID validates that a string is a valid UUID format
func validateUUID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid UUID format: %s", id)
	}
	return nil
}

// decodeJSONBody decodes the request body into dst and writes a 400 on failure.
// Oversized and malformed bodies have already been rejected by jsonBodyMiddleware.
func (a *API) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if !isJSONContentType(r.Header.Get("Content-Type")) {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", nil, a.logger)
		return errors.New("unsupported content type")
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	err := decoder.Decode(dst)
	if err != nil {
		var unmarshalTypeError *json.UnmarshalTypeError
		var parseError *time.ParseError

		switch {
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "Request body is required", err, a.logger)
		case errors.As(err, &unmarshalTypeError):
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid type for field '%s': expected %s", unmarshalTypeError.Field, unmarshalTypeError.Type), err, a.logger)
		case errors.As(err, &parseError):
			writeError(w, http.StatusBadRequest, "Invalid date format, expected RFC3339", err, a.logger)
		case strings.HasPrefix(err.Error(), "json: unknown field"):
			writeError(w, http.StatusBadRequest, fmt.Sprintf("JSON contains %s", strings.TrimPrefix(err.Error(), "json: ")), err, a.logger)
		default:
			writeError(w, http.StatusBadRequest, "Invalid JSON body", err, a.logger)
		}
		return err
	}

	return nil
}
