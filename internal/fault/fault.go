// Package fault defines the error kinds the pipeline surfaces to callers.
// Each kind maps to exactly one user-facing message category; wrapping keeps
// stage and operation context attached for logs.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuthorizationDenied marks requests refused by the ledger. No debit.
	ErrAuthorizationDenied = errors.New("authorization denied")
	// ErrDecode marks unreadable or corrupt input media. No debit.
	ErrDecode = errors.New("decode error")
	// ErrEncode marks filter, upscale or mux failures. No debit.
	ErrEncode = errors.New("encode error")
	// ErrLedgerIO marks persistence failures. Fatal for the request and
	// surfaced to admin monitoring, never silently dropped.
	ErrLedgerIO = errors.New("ledger io error")
	// ErrUnknownUser marks admin adjustments aimed at a nonexistent account.
	ErrUnknownUser = errors.New("unknown user")
)

// Wrap tags err with the given marker and stage/operation context.
func Wrap(marker error, stage, operation string, err error) error {
	detail := buildDetail(stage, operation)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind returns the user-facing category name for err, or "internal" when the
// error carries no known marker.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrAuthorizationDenied):
		return "authorization_denied"
	case errors.Is(err, ErrDecode):
		return "decode_error"
	case errors.Is(err, ErrEncode):
		return "encode_error"
	case errors.Is(err, ErrLedgerIO):
		return "ledger_io_error"
	case errors.Is(err, ErrUnknownUser):
		return "unknown_user"
	default:
		return "internal"
	}
}

func buildDetail(stage, operation string) string {
	parts := make([]string, 0, 2)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if len(parts) == 0 {
		return "failure"
	}
	return strings.Join(parts, ": ")
}
