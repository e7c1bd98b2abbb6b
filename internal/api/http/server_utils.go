package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/PalomitasTime/cinema/internal/domain"
	"github.com/PalomitasTime/cinema/internal/usecase"
)

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, usecase.ErrNoPlayableFile):
		writeError(w, http.StatusNotFound, "not_found", "file not found")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "session not found")
	case errors.Is(err, usecase.ErrRepository):
		writeError(w, http.StatusInternalServerError, "repository_error", err.Error())
	case errors.Is(err, usecase.ErrEngine):
		writeError(w, http.StatusInternalServerError, "engine_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parsePositiveInt(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if parsed <= 0 {
		return 0, errors.New("must be > 0")
	}
	return parsed, nil
}

var (
	errInvalidRange        = errors.New("invalid range")
	errRangeNotSatisfiable = errors.New("range not satisfiable")
)

// parseByteRange parses "bytes=<start>-<end>" against a resource of size
// bytes. End is optional and defaults to size-1. A start with a leading minus
// sign is read as negative and rejected as not satisfiable; suffix ranges,
// range lists and anything non-numeric are malformed.
func parseByteRange(value string, size int64) (start, end int64, err error) {
	byteRange, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes=")
	if !ok {
		return 0, 0, errInvalidRange
	}
	if strings.Contains(byteRange, ",") {
		return 0, 0, errInvalidRange
	}

	negative := false
	if rest, found := strings.CutPrefix(byteRange, "-"); found {
		negative = true
		byteRange = rest
	}

	startStr, endStr, found := strings.Cut(byteRange, "-")
	if !found || !isDigits(startStr) || (endStr != "" && !isDigits(endStr)) {
		return 0, 0, errInvalidRange
	}

	start, err = strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return 0, 0, errInvalidRange
	}
	if negative {
		start = -start
	}

	end = size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return 0, 0, errInvalidRange
		}
	}

	if start < 0 || start > end || end >= size {
		return 0, 0, errRangeNotSatisfiable
	}
	return start, end, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
