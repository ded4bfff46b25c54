// Package ledger is the durable per-user record of free conversions, token
// balance, subscription window and referral credits. It is the sole writer of
// account financial state: authorization never debits, only Commit does, so a
// crash between the two leaves no partial spend.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"subburn/internal/fault"
	"subburn/internal/tier"
)

// Store manages account persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	lock *flock.Flock
	log  *slog.Logger

	freeAllotment int
	referralBonus int
}

// Options carries the economy knobs the store needs.
type Options struct {
	Dir                 string
	FreeConversions     int
	ReferralBonusTokens int
	Logger              *slog.Logger
}

// Open connects to the ledger database under dir, acquiring an exclusive
// process lock so two daemons never write the same ledger.
func Open(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("ledger: dir must not be empty")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lock := flock.New(filepath.Join(opts.Dir, "ledger.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("ledger: acquire lock: %w", err)
	}
	if !ok {
		return nil, errors.New("ledger: another process holds the ledger lock")
	}

	dbPath := filepath.Join(opts.Dir, "ledger.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("ledger: open db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("ledger: apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{
		db:            db,
		path:          dbPath,
		lock:          lock,
		log:           logger,
		freeAllotment: opts.FreeConversions,
		referralBonus: opts.ReferralBonusTokens,
	}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	return store, nil
}

// Close releases the database and the process lock.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var firstErr error
	if s.db != nil {
		firstErr = s.db.Close()
	}
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Authorization is the ledger's verdict on a conversion request. It records
// which path will be charged at commit time; authorize itself never spends.
type Authorization struct {
	Allowed  bool
	Tier     tier.Tier
	FreePath bool
	Admin    bool
	Reason   string
}

// Authorize provisions the account on first sight, then negotiates the
// effective tier against the account's balance state. Nothing is debited.
func (s *Store) Authorize(ctx context.Context, userID int64, requested tier.Tier) (Authorization, error) {
	acct, err := s.ensure(ctx, userID)
	if err != nil {
		return Authorization{}, err
	}
	now := time.Now().UTC()
	if acct.Blocked(now) {
		return Authorization{Reason: "account blocked"}, nil
	}
	d := tier.Negotiate(requested, acct.FreeRemaining, acct.Tokens, acct.Admin)
	auth := Authorization{
		Allowed:  d.Allowed,
		Tier:     d.Tier,
		FreePath: d.FreePath,
		Admin:    acct.Admin,
		Reason:   d.Reason,
	}
	if auth.Allowed {
		s.log.Debug("authorized conversion",
			"user", userID, "requested", requested.String(), "effective", auth.Tier.String(),
			"free_path", auth.FreePath, "admin", auth.Admin)
	} else {
		s.log.Debug("authorization denied", "user", userID, "requested", requested.String(), "reason", auth.Reason)
	}
	return auth, nil
}

// Commit settles a finished job. Success debits the path recorded in auth and
// bumps the conversion counter; failure changes nothing, so the authorization
// is never "spent" on a failed job.
func (s *Store) Commit(ctx context.Context, userID int64, auth Authorization, success bool) error {
	if !success {
		s.log.Debug("commit skipped for failed job", "user", userID)
		return nil
	}
	if !auth.Allowed {
		return fault.Wrap(fault.ErrLedgerIO, "commit", "unauthorized commit", nil)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var (
		res sql.Result
		err error
	)
	switch {
	case auth.Admin:
		res, err = s.db.ExecContext(ctx,
			`UPDATE accounts SET total_conversions = total_conversions + 1, updated_at = ? WHERE user_id = ?`,
			now, userID)
	case auth.FreePath:
		res, err = s.db.ExecContext(ctx,
			`UPDATE accounts
			 SET free_remaining = free_remaining - 1,
			     total_conversions = total_conversions + 1,
			     updated_at = ?
			 WHERE user_id = ? AND free_remaining > 0`,
			now, userID)
	default:
		cost := auth.Tier.Cost()
		res, err = s.db.ExecContext(ctx,
			`UPDATE accounts
			 SET tokens = tokens - ?,
			     total_conversions = total_conversions + 1,
			     updated_at = ?
			 WHERE user_id = ? AND tokens >= ?`,
			cost, now, userID, cost)
	}
	if err != nil {
		return fault.Wrap(fault.ErrLedgerIO, "commit", "debit", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fault.Wrap(fault.ErrLedgerIO, "commit", "rows affected", err)
	}
	if n == 0 {
		// The balance moved between authorize and commit; refusing keeps the
		// non-negative invariant instead of silently overdrawing.
		return fault.Wrap(fault.ErrLedgerIO, "commit", "balance no longer covers authorization", nil)
	}
	s.log.Info("conversion committed",
		"user", userID, "tier", auth.Tier.String(), "free_path", auth.FreePath, "admin", auth.Admin)
	return nil
}
