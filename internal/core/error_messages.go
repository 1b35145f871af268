package core

// error_messages.go maps technical errors to user-facing messages with codes
// support staff can look up.
//
// # Error Codes Reference
//
// Typed errors (AppError) carry their own code and message:
//
//	NF001  - Not found: supplier, feed, mapper or product does not exist
//	REQ001 - Bad request: the request body or parameters are malformed
//	REQ002 - Invalid argument: a value is outside its allowed range
//	CON001 - Conflict: the resource is busy or already exists
//
// Untyped errors are matched against patterns, case-insensitively, first
// match wins:
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key             "duplicate key"
//	DB002 - Unique constraint         "unique constraint", "violates unique"
//	DB003 - Foreign key               "foreign key constraint", "violates foreign key"
//	DB004 - Connection refused        "connection refused"
//	DB005 - Connection reset          "connection reset"
//	DB006 - Timeout                   "timeout"
//	DB007 - Deadlock                  "deadlock"
//
// # Feed Errors (FEED001-FEED099)
//
//	FEED001 - Feed too large          "feed exceeds max size"
//	FEED002 - No file on FTP server   "no matching files"
//	FEED003 - Broken ZIP archive      "invalid zip archive", "no matching entry in zip"
//	FEED004 - Unsupported format      "unsupported feed format"
//	FEED005 - Empty feed              "empty feed"
//	FEED006 - FTP host missing        "ftp host not provided"
//	FEED007 - CSV parse error         "csv header", "csv row"
//
// # Mapping Errors (MAP001-MAP099)
//
//	MAP001 - Invalid profile          "profile:"
//	MAP002 - Unknown operator         "unknown operator"
//	MAP003 - Invalid pattern          "invalid regex"
//
// # Run Errors (RUN001-RUN099)
//
//	RUN001 - System busy              "too many concurrent runs"
//	RUN002 - Run abandoned            "abandoned"
//
// # Request Errors (CTX001-CTX099)
//
//	CTX001 - Request cancelled        "context canceled"
//	CTX002 - Request timed out        "context deadline exceeded"
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests       "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when no pattern matches; check application logs for the original
// error.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns is ordered: specific patterns before general ones.
var errorPatterns = []errorPattern{
	// Database constraints
	{"duplicate key", UserMessage{"A record with this key already exists", "Review the submitted identifiers", "DB001"}},
	{"unique constraint", UserMessage{"This value must be unique but already exists", "Choose a different value", "DB002"}},
	{"violates unique", UserMessage{"A duplicate value was found", "Choose a different value", "DB002"}},
	{"foreign key constraint", UserMessage{"Referenced record does not exist", "Create the parent record first", "DB003"}},
	{"violates foreign key", UserMessage{"Referenced record does not exist", "Create the parent record first", "DB003"}},

	// Feed transport and decoding, before the generic "timeout"
	{"feed exceeds max size", UserMessage{"The feed is larger than the configured limit", "Ask the supplier for a smaller export or raise FEED_MAX_BYTES", "FEED001"}},
	{"no matching files", UserMessage{"No matching file was found on the FTP server", "Check the directory and file extension settings", "FEED002"}},
	{"invalid zip archive", UserMessage{"The feed archive could not be opened", "Check that the feed URL returns a valid ZIP file", "FEED003"}},
	{"no matching entry in zip", UserMessage{"The feed archive has no matching entry", "Set zip_entry to the file inside the archive", "FEED003"}},
	{"unsupported feed format", UserMessage{"The feed format is not supported", "Use csv or json", "FEED004"}},
	{"empty feed", UserMessage{"The feed contained no rows", "Check the feed at the supplier before re-running", "FEED005"}},
	{"ftp host not provided", UserMessage{"The FTP host is missing", "Set the host in the feed URL or auth settings", "FEED006"}},
	{"csv header", UserMessage{"The CSV header could not be read", "Check the delimiter and quoting of the feed", "FEED007"}},
	{"csv row", UserMessage{"A CSV row could not be parsed", "Check the delimiter and quoting of the feed", "FEED007"}},

	// Mapping profiles
	{"unknown operator", UserMessage{"The mapping profile uses an unknown operator", "See /api/mapping/operators for supported operators", "MAP002"}},
	{"invalid regex", UserMessage{"The mapping profile contains an invalid pattern", "Fix the regular expression", "MAP003"}},
	{"profile:", UserMessage{"The mapping profile is invalid", "Validate the profile before saving", "MAP001"}},

	// Runs
	{"too many concurrent runs", UserMessage{"Too many ingestion runs in progress", "Please wait a moment and try again", "RUN001"}},
	{"abandoned", UserMessage{"The run did not finish and was closed", "Re-run the ingestion", "RUN002"}},

	// Request lifecycle
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "CTX001"}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Please try again later", "CTX002"}},

	// Database connectivity
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB004"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB005"}},
	{"timeout", UserMessage{"Operation timed out", "Please try again later", "DB006"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB007"}},

	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

var kindActions = map[ErrorKind]string{
	KindNotFound:        "Check the identifier and try again",
	KindBadRequest:      "Fix the request and try again",
	KindInvalidArgument: "Fix the request and try again",
	KindConflict:        "Wait for the current operation to finish or use a different value",
}

// MapError converts an error to a user-facing message. Typed errors keep
// their own message and code; other errors are matched against known
// patterns with ERR000 as the fallback.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var ae *AppError
	if errors.As(err, &ae) {
		return UserMessage{Message: ae.Message, Action: kindActions[ae.Kind], Code: ae.Code}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	if msg.Action == "" {
		return fmt.Sprintf("%s (Code: %s)", msg.Message, msg.Code)
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
