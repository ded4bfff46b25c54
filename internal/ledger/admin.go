package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"subburn/internal/fault"
)

// Plan is a subscription offering: an access window plus a token award.
type Plan struct {
	Key      string
	Days     int
	Tokens   int
	PriceUSD float64
}

var plans = map[string]Plan{
	"1m": {Key: "1m", Days: 30, Tokens: 1000, PriceUSD: 2.50},
	"2m": {Key: "2m", Days: 60, Tokens: 2000, PriceUSD: 5.00},
	"3m": {Key: "3m", Days: 90, Tokens: 3000, PriceUSD: 9.99},
	"1y": {Key: "1y", Days: 365, Tokens: 12000, PriceUSD: 120.00},
}

// PlanByKey resolves a subscription plan name.
func PlanByKey(key string) (Plan, error) {
	p, ok := plans[key]
	if !ok {
		return Plan{}, fmt.Errorf("unknown plan %q (expected 1m, 2m, 3m or 1y)", key)
	}
	return p, nil
}

// Plans returns the known plans keyed by name.
func Plans() map[string]Plan {
	out := make(map[string]Plan, len(plans))
	for k, v := range plans {
		out[k] = v
	}
	return out
}

// grantAttempts bounds the optimistic retry loop below.
const grantAttempts = 5

// GrantSubscription extends the user's access window by the plan's span,
// awards the plan's tokens, restores the free allotment and records the
// payment. An unexpired window extends from its current end.
//
// The extension is a read-modify-write, so the UPDATE only lands when the
// expiry still matches what was read. A concurrent grant that got there
// first makes the write miss and the loop re-reads, so every paid extension
// stacks instead of one silently overwriting the other.
func (s *Store) GrantSubscription(ctx context.Context, userID int64, plan Plan) error {
	for attempt := 0; attempt < grantAttempts; attempt++ {
		acct, err := s.Get(ctx, userID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		from := now
		prev := ""
		if acct.SubscriptionUntil != nil {
			prev = acct.SubscriptionUntil.Format(time.RFC3339Nano)
			if acct.Subscribed(now) {
				from = *acct.SubscriptionUntil
			}
		}
		until := from.AddDate(0, 0, plan.Days)

		res, err := s.db.ExecContext(ctx,
			`UPDATE accounts
			 SET subscription_until = ?,
			     tokens = tokens + ?,
			     free_remaining = ?,
			     payments = payments + 1,
			     updated_at = ?
			 WHERE user_id = ? AND COALESCE(subscription_until, '') = ?`,
			until.Format(time.RFC3339Nano), plan.Tokens, s.freeAllotment,
			now.Format(time.RFC3339Nano), userID, prev)
		if err != nil {
			return fault.Wrap(fault.ErrLedgerIO, "ledger", "grant subscription", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fault.Wrap(fault.ErrLedgerIO, "ledger", "grant subscription", err)
		}
		if n == 1 {
			s.log.Info("subscription granted", "user", userID, "plan", plan.Key, "until", until, "tokens", plan.Tokens)
			return nil
		}
	}
	return fault.Wrap(fault.ErrLedgerIO, "ledger", "grant subscription",
		fmt.Errorf("user %d: expiry kept moving under concurrent grants", userID))
}

// CreditTokens adds tokens to the balance. Non-positive amounts are ignored.
func (s *Store) CreditTokens(ctx context.Context, userID int64, amount int) error {
	if amount <= 0 {
		return nil
	}
	if err := s.requireAccount(ctx, userID); err != nil {
		return err
	}
	if err := s.exec(ctx, "credit tokens",
		`UPDATE accounts SET tokens = tokens + ?, updated_at = ? WHERE user_id = ?`,
		amount, nowString(), userID); err != nil {
		return err
	}
	s.log.Info("tokens credited", "user", userID, "amount", amount)
	return nil
}

// CreditReferral awards referral tokens and bumps the referral credit count.
func (s *Store) CreditReferral(ctx context.Context, userID int64, amount int) error {
	if amount <= 0 {
		return nil
	}
	if err := s.requireAccount(ctx, userID); err != nil {
		return err
	}
	if err := s.exec(ctx, "credit referral",
		`UPDATE accounts
		 SET tokens = tokens + ?, referral_credits = referral_credits + 1, updated_at = ?
		 WHERE user_id = ?`,
		amount, nowString(), userID); err != nil {
		return err
	}
	s.log.Info("referral credited", "user", userID, "amount", amount)
	return nil
}

// RecordReferral links a new user to the referrer and pays the bonus once.
// Self-referrals and repeat referrals are silently ignored.
func (s *Store) RecordReferral(ctx context.Context, referrerID, newUserID int64) error {
	if referrerID == newUserID {
		return nil
	}
	invitee, err := s.ensure(ctx, newUserID)
	if err != nil {
		return err
	}
	if invitee.ReferrerID != nil {
		return nil
	}
	if _, err := s.ensure(ctx, referrerID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET referrer_id = ?, updated_at = ? WHERE user_id = ? AND referrer_id IS NULL`,
		referrerID, nowString(), newUserID)
	if err != nil {
		return fault.Wrap(fault.ErrLedgerIO, "ledger", "record referral", err)
	}
	if n, raErr := res.RowsAffected(); raErr != nil || n == 0 {
		// Lost a race to another registration path; the first one stands.
		return nil
	}
	return s.CreditReferral(ctx, referrerID, s.referralBonus)
}

// ResetUsage restores the free conversion allotment.
func (s *Store) ResetUsage(ctx context.Context, userID int64) error {
	if err := s.requireAccount(ctx, userID); err != nil {
		return err
	}
	if err := s.exec(ctx, "reset usage",
		`UPDATE accounts SET free_remaining = ?, updated_at = ? WHERE user_id = ?`,
		s.freeAllotment, nowString(), userID); err != nil {
		return err
	}
	s.log.Info("usage reset", "user", userID, "free_conversions", s.freeAllotment)
	return nil
}

// Block denies the user until the given time.
func (s *Store) Block(ctx context.Context, userID int64, until time.Time) error {
	if err := s.requireAccount(ctx, userID); err != nil {
		return err
	}
	if err := s.exec(ctx, "block",
		`UPDATE accounts SET blocked_until = ?, updated_at = ? WHERE user_id = ?`,
		until.UTC().Format(time.RFC3339Nano), nowString(), userID); err != nil {
		return err
	}
	s.log.Info("user blocked", "user", userID, "until", until)
	return nil
}

// Unblock clears any block.
func (s *Store) Unblock(ctx context.Context, userID int64) error {
	if err := s.requireAccount(ctx, userID); err != nil {
		return err
	}
	if err := s.exec(ctx, "unblock",
		`UPDATE accounts SET blocked_until = NULL, updated_at = ? WHERE user_id = ?`,
		nowString(), userID); err != nil {
		return err
	}
	s.log.Info("user unblocked", "user", userID)
	return nil
}

// Stats is the admin usage summary.
type Stats struct {
	Users             int
	Conversions       int
	Payments          int
	TokensOutstanding int
}

// Summary aggregates ledger-wide counters for admin monitoring.
func (s *Store) Summary(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(total_conversions), 0),
		        COALESCE(SUM(payments), 0),
		        COALESCE(SUM(tokens), 0)
		 FROM accounts`)
	if err := row.Scan(&st.Users, &st.Conversions, &st.Payments, &st.TokensOutstanding); err != nil {
		return Stats{}, fault.Wrap(fault.ErrLedgerIO, "ledger", "summary", err)
	}
	return st, nil
}

func (s *Store) requireAccount(ctx context.Context, userID int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE user_id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fault.Wrap(fault.ErrUnknownUser, "ledger", "adjust", nil)
	}
	if err != nil {
		return fault.Wrap(fault.ErrLedgerIO, "ledger", "lookup", err)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fault.Wrap(fault.ErrLedgerIO, "ledger", op, err)
	}
	return nil
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
