package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"subburn/internal/fault"
)

// Account is one user's durable ledger record.
type Account struct {
	UserID            int64
	FreeRemaining     int
	Tokens            int
	SubscriptionUntil *time.Time
	BlockedUntil      *time.Time
	TotalConversions  int
	ReferralCredits   int
	ReferrerID        *int64
	Payments          int
	Admin             bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Subscribed reports whether the subscription window covers now. The window
// is informational for authorization: tokens and free conversions remain the
// only gates either way.
func (a Account) Subscribed(now time.Time) bool {
	return a.SubscriptionUntil != nil && a.SubscriptionUntil.After(now)
}

// Blocked reports whether the account is blocked at now.
func (a Account) Blocked(now time.Time) bool {
	return a.BlockedUntil != nil && a.BlockedUntil.After(now)
}

const accountColumns = `user_id, free_remaining, tokens, subscription_until, blocked_until,
	total_conversions, referral_credits, referrer_id, payments, is_admin, created_at, updated_at`

// Get returns the account for userID, or ErrUnknownUser.
func (s *Store) Get(ctx context.Context, userID int64) (Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = ?`, userID)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, fault.Wrap(fault.ErrUnknownUser, "ledger", "get", nil)
	}
	if err != nil {
		return Account{}, fault.Wrap(fault.ErrLedgerIO, "ledger", "get", err)
	}
	return acct, nil
}

// List returns all accounts ordered by user id.
func (s *Store) List(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, fault.Wrap(fault.ErrLedgerIO, "ledger", "list", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, fault.Wrap(fault.ErrLedgerIO, "ledger", "list scan", err)
		}
		accounts = append(accounts, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(fault.ErrLedgerIO, "ledger", "list rows", err)
	}
	return accounts, nil
}

// Provision creates the account if missing. The admin flag applies only at
// creation and is immutable afterwards.
func (s *Store) Provision(ctx context.Context, userID int64, admin bool) (Account, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (user_id, free_remaining, is_admin, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO NOTHING`,
		userID, s.freeAllotment, boolToInt(admin), now, now)
	if err != nil {
		return Account{}, fault.Wrap(fault.ErrLedgerIO, "ledger", "provision", err)
	}
	return s.Get(ctx, userID)
}

// ensure is Provision without the admin flag, used on first interaction.
func (s *Store) ensure(ctx context.Context, userID int64) (Account, error) {
	return s.Provision(ctx, userID, false)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var (
		acct       Account
		subUntil   sql.NullString
		blockUntil sql.NullString
		referrer   sql.NullInt64
		isAdmin    int
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(
		&acct.UserID, &acct.FreeRemaining, &acct.Tokens, &subUntil, &blockUntil,
		&acct.TotalConversions, &acct.ReferralCredits, &referrer, &acct.Payments,
		&isAdmin, &createdAt, &updatedAt,
	)
	if err != nil {
		return Account{}, err
	}
	acct.Admin = isAdmin != 0
	if subUntil.Valid {
		if t, perr := time.Parse(time.RFC3339Nano, subUntil.String); perr == nil {
			acct.SubscriptionUntil = &t
		}
	}
	if blockUntil.Valid {
		if t, perr := time.Parse(time.RFC3339Nano, blockUntil.String); perr == nil {
			acct.BlockedUntil = &t
		}
	}
	if referrer.Valid {
		id := referrer.Int64
		acct.ReferrerID = &id
	}
	if t, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
		acct.CreatedAt = t
	}
	if t, perr := time.Parse(time.RFC3339Nano, updatedAt); perr == nil {
		acct.UpdatedAt = t
	}
	return acct, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
