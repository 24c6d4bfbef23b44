package main

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the classification assigned to a failed database operation.
// It decides whether the connector retries and how the failure is rendered
// for the caller.
type ErrorKind int

const (
	// ErrUnknown is anything the tables below do not recognize; the raw
	// driver message is surfaced verbatim.
	ErrUnknown ErrorKind = iota
	// ErrTransient is an infrastructure-level fault (throttling, transport
	// reset) expected to clear without caller action. Eligible for retry.
	ErrTransient
	// ErrPermissionDenied is an authorization failure. SQL Server sometimes
	// reports these as informational messages on an otherwise successful
	// call, so this kind can come from advisory inspection as well as from
	// raised errors.
	ErrPermissionDenied
	// ErrTransactionFailure is a statement failure inside a transaction
	// block, always paired with a rollback.
	ErrTransactionFailure
	// ErrSyntaxOrSemantic is reserved for parse/binding failures. The
	// classifier currently folds these into ErrUnknown because the driver
	// does not distinguish them reliably in message text.
	ErrSyntaxOrSemantic
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTransient:
		return "transient"
	case ErrPermissionDenied:
		return "permission_denied"
	case ErrTransactionFailure:
		return "transaction_failure"
	case ErrSyntaxOrSemantic:
		return "syntax_or_semantic"
	default:
		return "unknown"
	}
}

// transientFaultCodes are SQL Server / Azure SQL error numbers for faults
// that resolve on their own: database unavailable after failover (40613,
// 4060), resource throttling (40501, 10928, 10929), service busy during
// reconfiguration (40197), connection-init failures (49918, 49919, 49920).
// The driver reports these inside free-form message text, not as a
// structured field, so membership is tested as a "(code)" substring.
var transientFaultCodes = []int{
	4060, 10928, 10929, 40197, 40501, 40613, 49918, 49919, 49920,
}

// permissionPhrases are matched case-insensitively against error and
// advisory text. Best-effort: the server-side permission error surface is
// larger than this list.
var permissionPhrases = []string{
	"permission",
	"privilege",
	"access denied",
	"not authorized",
}

// permissionAdvisoryCodes are SQL Server error numbers for permission
// denials that can arrive as informational messages instead of raised
// errors (e.g. 229 "The SELECT permission was denied").
var permissionAdvisoryCodes = []int32{229, 230, 262, 297, 300}

// txError marks an error as raised from within transaction-block execution.
// The engine wraps statement failures in it before rollback so the
// classifier can tell them apart from standalone failures.
type txError struct {
	stmt string
	err  error
}

func (e *txError) Error() string {
	return fmt.Sprintf("transaction statement %q failed: %v", e.stmt, e.err)
}

func (e *txError) Unwrap() error { return e.err }

// classifyError maps a raised driver error onto the taxonomy. Checks are
// ordered; the first match wins. Both the connector (retry decision) and
// the engine (response shape) go through here so the two call sites can
// never disagree on what counts as transient.
func classifyError(err error) ErrorKind {
	if err == nil {
		return ErrUnknown
	}
	text := err.Error()

	if hasTransientCode(text) {
		return ErrTransient
	}
	if hasPermissionPhrase(text) {
		return ErrPermissionDenied
	}
	if isTxError(err) {
		return ErrTransactionFailure
	}
	return ErrUnknown
}

func hasTransientCode(text string) bool {
	for _, code := range transientFaultCodes {
		if strings.Contains(text, fmt.Sprintf("(%d)", code)) {
			return true
		}
	}
	return false
}

func hasPermissionPhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range permissionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func isTxError(err error) bool {
	var te *txError
	return errors.As(err, &te)
}

// advisoryIndicatesPermissionDenial reports whether a driver advisory
// message carries a permission denial, either by error number or by phrase.
func advisoryIndicatesPermissionDenial(a Advisory) bool {
	for _, code := range permissionAdvisoryCodes {
		if a.Number == code {
			return true
		}
	}
	return hasPermissionPhrase(a.Message)
}
