package main

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// Machine-stable error codes returned by the content endpoint
const (
	codeMissingFile  = "MISSING_FILE_PARAM"
	codeInvalidPath  = "INVALID_PATH"
	codePathEscape   = "PATH_ESCAPES_ROOT"
	codeFileNotFound = "FILE_NOT_FOUND"
)

// ErrWatcherRunning is returned by Watcher.Start when a watch is already active
var ErrWatcherRunning = errors.New("watcher already running")

func errMissingFile() error {
	return goerrors.New("missing file parameter", goerrors.CategoryValidation).
		WithTextCode(codeMissingFile)
}

func errInvalidPath() error {
	return goerrors.New("invalid path", goerrors.CategoryAuthz).
		WithTextCode(codeInvalidPath)
}

func errAccessDenied() error {
	return goerrors.New("access denied", goerrors.CategoryAuthz).
		WithTextCode(codePathEscape)
}

func errFileNotFound(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryNotFound, "file not found").
		WithTextCode(codeFileNotFound)
}

// statusFor maps an error category to its HTTP status
func statusFor(err error) int {
	switch {
	case goerrors.IsCategory(err, goerrors.CategoryValidation):
		return http.StatusBadRequest
	case goerrors.IsCategory(err, goerrors.CategoryAuthz):
		return http.StatusForbidden
	case goerrors.IsCategory(err, goerrors.CategoryNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the error string sent to clients. Internal errors are not described.
func publicMessage(err error) string {
	if statusFor(err) == http.StatusInternalServerError {
		return "internal error"
	}
	var gerr *goerrors.Error
	if errors.As(err, &gerr) && gerr.Message != "" {
		return gerr.Message
	}
	return err.Error()
}

// errorCode returns the text code attached to err, if any
func errorCode(err error) string {
	var gerr *goerrors.Error
	if errors.As(err, &gerr) {
		return gerr.TextCode
	}
	return ""
}
