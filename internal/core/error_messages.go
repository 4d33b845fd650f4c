package core

// error_messages.go maps technical errors to user-facing messages with a
// support code.
//
// Typed errors from this package are matched first (errors.Is / errors.As);
// anything else, such as driver errors, is matched by case-insensitive
// substring. The first match wins.
//
//	CFG001 unknown model            DAT001 invalid date
//	CFG002 unknown mode             DAT002 unresolved reference
//	CFG003 unknown processor        DAT003 missing field on export
//	CFG004 unknown validator        DAT000 other data errors
//	CFG005 dependency problem       INT001 uniqueness violation
//	CFG006 update function missing  FILE001 missing file
//	CFG000 other configuration      FILE002 invalid csv
//	DB001-DB007 database            RUN001-RUN003 run control
//	ERR000 unknown

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Support reference
}

type typedMessage struct {
	match func(error) bool
	msg   UserMessage
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

func as[T error]() func(error) bool {
	return func(err error) bool {
		var t T
		return errors.As(err, &t)
	}
}

var typedMessages = []typedMessage{
	{is(ErrUnknownModel), UserMessage{"Unknown model", "Run `csvsync models` to list valid names", "CFG001"}},
	{is(ErrUnknownMode), UserMessage{"Unknown import mode", "Use append, overwrite, update or validate", "CFG002"}},
	{is(ErrUnknownProcessor), UserMessage{"A mapping uses an unknown processor", "Fix the processor name in the definition", "CFG003"}},
	{is(ErrUnknownValidator), UserMessage{"A mapping uses an unknown validator", "Fix the validator name in the definition", "CFG004"}},
	{as[*CycleError](), UserMessage{"Definitions depend on each other in a cycle", "Remove one of the dependencies", "CFG005"}},
	{is(ErrUnknownDependency), UserMessage{"A definition depends on an unknown definition", "Register the dependency or remove it", "CFG005"}},
	{is(ErrMissingUpdate), UserMessage{"This model does not support update mode", "Use append or overwrite instead", "CFG006"}},
	{is(ErrNoCacheKey), UserMessage{"Uniqueness checks need a cache key", "Set a cache key on the definition", "CFG000"}},
	{is(ErrConfig), UserMessage{"The definition is misconfigured", "Review the definition named in the error", "CFG000"}},
	{as[*IntegrityError](), UserMessage{"A value that must be unique already exists", "Remove the duplicate from the file", "INT001"}},
	{as[*ReferenceError](), UserMessage{"A referenced record was not found", "Import the referenced model first or fix the key", "DAT002"}},
	{is(ErrNoSourceFile), UserMessage{"The CSV file does not exist", "Check CSV_DIR and the definition's file name", "FILE001"}},
	{is(ErrTooManyRuns), UserMessage{"Another run is in progress", "Please wait a moment and try again", "RUN001"}},
	{is(context.Canceled), UserMessage{"The run was cancelled", "Start it again when ready", "RUN002"}},
	{is(context.DeadlineExceeded), UserMessage{"The run timed out", "Raise RUN_TIMEOUT or import fewer rows", "RUN003"}},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns are checked in order after the typed messages.
var errorPatterns = []errorPattern{
	{"invalid date", UserMessage{"Invalid date in the file", "Match the date format the column expects", "DAT001"}},
	{"could not select field", UserMessage{"A record lacks a mapped field", "Fix the mapping or the query", "DAT003"}},
	{"duplicate key", UserMessage{"A record with this key already exists", "Use update mode or remove the duplicate", "DB001"}},
	{"unique constraint", UserMessage{"This value must be unique but already exists", "Check for duplicate entries in your CSV", "DB002"}},
	{"violates foreign key", UserMessage{"Referenced record does not exist", "Import the parent model first", "DB003"}},
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB004"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB005"}},
	{"does not exist", UserMessage{"A table or column does not exist", "Check the definition's table and field names", "DB006"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB007"}},
	{"no such file", UserMessage{"The CSV file does not exist", "Check CSV_DIR and the definition's file name", "FILE001"}},
	{"invalid csv", UserMessage{"File is not a valid CSV", "Ensure the file is comma-separated", "FILE002"}},
}

var dataMessage = UserMessage{"A value in the file could not be imported", "Fix the value named in the error", "DAT000"}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the logs for details",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	for _, tm := range typedMessages {
		if tm.match(err) {
			return tm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	if errors.Is(err, ErrData) {
		return dataMessage
	}
	return defaultMessage
}

// FormatUserError creates "Message (Code: XXX). Action".
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
