package core

// error_messages.go maps technical errors to user-facing messages with codes
// that users can quote to support.
//
// Codes are grouped by category:
//
//	DB001-DB099    catalog and session database errors
//	VAL001-VAL099  row and configuration validation
//	FILE001-FILE099 uploaded file handling and parsing
//	IMP001-IMP099  import session lifecycle
//	MAP001-MAP099  column mapping
//	RATE001        request throttling
//	ERR000         fallback when nothing matches
//
// Patterns are matched case-insensitively with strings.Contains and the
// first match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Database
	{"duplicate key", UserMessage{"A product or SKU with this key already exists", "Check the file for duplicate SKUs or product names", "DB001"}},
	{"unique constraint", UserMessage{"A value that must be unique already exists", "Check the file for duplicate SKUs or product names", "DB002"}},
	{"foreign key", UserMessage{"A referenced catalog record does not exist", "Import the parent products first", "DB003"}},
	{"connection refused", UserMessage{"Unable to connect to the database", "Please try again in a few moments", "DB004"}},
	{"connection reset", UserMessage{"The database connection was interrupted", "Please try again", "DB005"}},
	{"database is locked", UserMessage{"The catalog database is busy", "Please try again", "DB007"}},
	{"deadlock", UserMessage{"The database was busy with conflicting operations", "Please try again", "DB007"}},
	{"modified concurrently", UserMessage{"The import was updated by another worker", "Refresh the status and try again", "DB008"}},

	// Barcode pool before generic validation wording
	{"barcode pool exhausted", UserMessage{"No free barcodes are left in the pool", "Add barcodes to the pool or disable automatic assignment", "IMP006"}},

	// Validation
	{"invalid number format", UserMessage{"A number could not be read", "Use plain decimal numbers without text", "VAL002"}},
	{"required field is empty", UserMessage{"A required value is empty", "Fill in product name and SKU for every row", "VAL003"}},
	{"unknown validation rule", UserMessage{"A validation rule override is not recognised", "Remove or correct the rule name", "VAL007"}},
	{"unknown extraction rule", UserMessage{"An extraction rule override is not recognised", "Remove or correct the rule name", "VAL008"}},
	{"invalid configuration", UserMessage{"The import options are invalid", "Review chunk size, mode and time limit", "VAL009"}},

	// Files
	{"file too large", UserMessage{"The file exceeds the maximum upload size", "Split the file into smaller parts", "FILE001"}},
	{"unsupported file type", UserMessage{"This file type is not supported", "Upload a CSV, XLSX or XLS file", "FILE002"}},
	{"encoding", UserMessage{"The file contains characters that could not be decoded", "Save the file as UTF-8 or choose the encoding explicitly", "FILE003"}},
	{"no file provided", UserMessage{"No file was uploaded", "Select a file to import", "FILE004"}},
	{"empty file", UserMessage{"The file has no header or data rows", "Upload a file with a header row and data", "FILE005"}},
	{"sheet not found", UserMessage{"The selected sheet does not exist", "Check the sheet name or leave it empty", "FILE006"}},
	{"artifact not found", UserMessage{"The uploaded file is no longer available", "Upload the file again", "FILE007"}},

	// Import lifecycle
	{"cancelled by user", UserMessage{"The import was cancelled", "Retry the import when ready", "IMP001"}},
	{"too many concurrent imports", UserMessage{"The system is busy with other imports", "Please wait a moment and try again", "IMP002"}},
	{"import session not found", UserMessage{"Import not found", "The import may have been removed. Start a new one", "IMP003"}},
	{"terminal state", UserMessage{"The import has already finished", "Start a retry to run it again", "IMP004"}},
	{"can be retried", UserMessage{"Only failed or cancelled imports can be retried", "Wait for the import to finish", "IMP005"}},
	{"invalid session status transition", UserMessage{"This action is not possible at the current stage", "Refresh the status and try again", "IMP007"}},
	{"stale", UserMessage{"The import stopped making progress", "Retry the import", "IMP008"}},
	{"context deadline exceeded", UserMessage{"The import took longer than its time limit", "Use a larger time limit or split the file", "IMP009"}},
	{"context canceled", UserMessage{"The request was cancelled", "Please try again", "IMP010"}},

	// Mapping
	{"duplicate mapping", UserMessage{"Two columns are mapped to the same field", "Map each field to one column", "MAP001"}},
	{"is not mapped", UserMessage{"A required field is not mapped", "Map product name and SKU to columns", "MAP002"}},
	{"mapping length", UserMessage{"The mapping does not match the file's columns", "Send one entry per column", "MAP003"}},
	{"unknown field", UserMessage{"A column is mapped to an unknown field", "Choose a field from the suggestions", "MAP004"}},

	// Throttling
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},

	// Generic timeout last so specific deadlines win.
	{"timeout", UserMessage{"The operation timed out", "Please try again later", "DB006"}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. Unknown
// errors map to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError formats err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: MapError(err)}
}
