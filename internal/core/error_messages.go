// Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// When users encounter errors, they can quote the error code to support staff
// for faster diagnosis.
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Not found: The requested record does not exist
//	         Sentinel: ErrNotFound
//
//	REQ002 - Empty update: No fields to update were provided
//	         Sentinel: ErrEmptyPatch
//
//	REQ003 - Request cancelled
//	         Patterns: "context canceled"
//
//	REQ004 - Request timeout
//	         Patterns: "context deadline exceeded"
//
//	REQ005 - Malformed body: The request body is not valid JSON
//	         Sentinel: ErrMalformedRequest
//
//	REQ006 - Method not allowed: The route does not accept this HTTP method
//	         Sentinel: ErrMethodNotAllowed
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid input: One or more values are invalid
//	         Sentinel: ErrValidation
//
//	VAL002 - Unsupported format: Export format is not supported
//	         Sentinel: ErrUnsupportedFormat
//
// # Generation Errors (GEN001-GEN099)
//
//	GEN001 - Upstream failure: A generation service failed
//	         Sentinel: ErrUpstream
//
//	GEN002 - City not found: The address service does not know the city
//	         Patterns: "city not found"
//
//	GEN003 - No street data: No street addresses were found for the city
//	         Patterns: "no street data"
//
//	GEN004 - Model unavailable: The language model call failed
//	         Patterns: "ollama chat"
//
//	GEN005 - System busy: Too many generations in progress
//	         Sentinel: ErrTooManyGenerations
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key: A record with this ID already exists
//	        Patterns: "duplicate key", "primary key"
//
//	DB002 - Duplicate name: A custom field with this name already exists
//	        Sentinel: ErrConflict
//
//	DB003 - Foreign key: Referenced record does not exist
//	        Patterns: "foreign key"
//
//	DB004 - Connection refused: Unable to connect to database
//	        Patterns: "connection refused"
//
//	DB005 - Database busy: The database file is locked by another writer
//	        Patterns: "database is locked"
//
// # Rate Limiting (RATE001-RATE099)
//
//	RATE001 - Rate limited: Too many requests
//	          Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check application logs for the original
// technical error when users report ERR000.
//
// # Matching Order
//
// Sentinels are checked first with errors.Is. Sentinels marked refinable
// (upstream and constraint failures) then consult the pattern table for a
// more specific message. Errors that match no sentinel fall through to the
// pattern table, where the first case-insensitive strings.Contains match wins.

package core

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type sentinelMessage struct {
	target error
	refine bool
	msg    UserMessage
}

var sentinelMessages = []sentinelMessage{
	{
		target: ErrNotFound,
		msg: UserMessage{
			Message: "The requested record does not exist",
			Action:  "Check the identifier and try again",
			Code:    "REQ001",
		},
	},
	{
		target: ErrEmptyPatch,
		msg: UserMessage{
			Message: "No fields to update were provided",
			Action:  "Include at least one field with a value",
			Code:    "REQ002",
		},
	},
	{
		target: ErrMalformedRequest,
		msg: UserMessage{
			Message: "The request body is not valid JSON",
			Action:  "Send a JSON object matching the documented fields",
			Code:    "REQ005",
		},
	},
	{
		target: ErrMethodNotAllowed,
		msg: UserMessage{
			Message: "This endpoint does not accept that HTTP method",
			Action:  "Check the method against the API routes",
			Code:    "REQ006",
		},
	},
	{
		target: ErrUnsupportedFormat,
		msg: UserMessage{
			Message: "Export format is not supported",
			Action:  "Use csv or excel",
			Code:    "VAL002",
		},
	},
	{
		target: ErrValidation,
		msg: UserMessage{
			Message: "One or more values are invalid",
			Action:  "Correct the highlighted fields and resubmit",
			Code:    "VAL001",
		},
	},
	{
		target: ErrTooManyGenerations,
		msg: UserMessage{
			Message: "System is busy generating other members",
			Action:  "Please wait a moment and try again",
			Code:    "GEN005",
		},
	},
	{
		target: ErrConflict,
		msg: UserMessage{
			Message: "A custom field with this name already exists",
			Action:  "Choose a different name",
			Code:    "DB002",
		},
	},
	{
		target: ErrUpstream,
		refine: true,
		msg: UserMessage{
			Message: "A generation service failed",
			Action:  "Members created before the failure were kept; retry for the remainder",
			Code:    "GEN001",
		},
	},
	{
		target: ErrConstraint,
		refine: true,
		msg: UserMessage{
			Message: "The change violates a database constraint",
			Action:  "Reload the data and try again",
			Code:    "DB001",
		},
	},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// The first matching pattern wins, so more specific patterns come first.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Generation Errors (GEN002-GEN004)
	// =========================================================================
	{
		pattern: "city not found",
		msg: UserMessage{
			Message: "The city could not be found",
			Action:  "Check the spelling of the city and country",
			Code:    "GEN002",
		},
	},
	{
		pattern: "no street data",
		msg: UserMessage{
			Message: "No street addresses were found for this city",
			Action:  "Try a larger or nearby city",
			Code:    "GEN003",
		},
	},
	{
		pattern: "ollama chat",
		msg: UserMessage{
			Message: "The language model request failed",
			Action:  "Check that the model server is running and the model is available",
			Code:    "GEN004",
		},
	},

	// =========================================================================
	// Database Errors (DB001-DB005)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this ID already exists",
			Action:  "Reload the data and try again",
			Code:    "DB001",
		},
	},
	{
		pattern: "primary key",
		msg: UserMessage{
			Message: "A record with this ID already exists",
			Action:  "Reload the data and try again",
			Code:    "DB001",
		},
	},
	{
		pattern: "foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Reload the data and try again",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "The database is busy",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},

	// =========================================================================
	// Request lifecycle (REQ003-REQ004)
	// =========================================================================
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "REQ003",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Generate fewer members per request",
			Code:    "REQ004",
		},
	},

	// =========================================================================
	// Rate Limiting (RATE001)
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	err := fmt.Errorf("get member: %w", ErrNotFound)
//	msg := MapError(err)
//	// msg.Code == "REQ001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if !errors.Is(err, sm.target) {
			continue
		}
		if sm.refine {
			if msg, ok := matchPattern(err); ok {
				return msg
			}
		}
		return sm.msg
	}

	if msg, ok := matchPattern(err); ok {
		return msg
	}
	return defaultMessage
}

func matchPattern(err error) (UserMessage, bool) {
	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg, true
		}
	}
	return UserMessage{}, false
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
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
