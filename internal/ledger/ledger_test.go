package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"subburn/internal/fault"
	"subburn/internal/logging"
	"subburn/internal/tier"
)

func newStore(t *testing.T, freeConversions int) *Store {
	t.Helper()
	s, err := Open(Options{
		Dir:                 t.TempDir(),
		FreeConversions:     freeConversions,
		ReferralBonusTokens: 100,
		Logger:              logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAuthorize_FreePath(t *testing.T) {
	s := newStore(t, 3)
	ctx := context.Background()

	auth, err := s.Authorize(ctx, 42, tier.UHD)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !auth.Allowed || auth.Tier != tier.UHD || !auth.FreePath {
		t.Fatalf("unexpected auth: %+v", auth)
	}

	// authorize must not spend anything
	acct, err := s.Get(ctx, 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acct.FreeRemaining != 3 || acct.Tokens != 0 || acct.TotalConversions != 0 {
		t.Fatalf("authorize mutated balances: %+v", acct)
	}

	if err := s.Commit(ctx, 42, auth, true); err != nil {
		t.Fatalf("commit: %v", err)
	}
	acct, _ = s.Get(ctx, 42)
	if acct.FreeRemaining != 2 {
		t.Fatalf("free remaining = %d, want 2", acct.FreeRemaining)
	}
	if acct.Tokens != 0 {
		t.Fatalf("free path debited tokens: %d", acct.Tokens)
	}
	if acct.TotalConversions != 1 {
		t.Fatalf("conversions = %d, want 1", acct.TotalConversions)
	}
}

func TestAuthorize_TokenDowngrade(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()

	if _, err := s.Provision(ctx, 7, false); err != nil {
		t.Fatal(err)
	}
	if err := s.CreditTokens(ctx, 7, 60); err != nil {
		t.Fatal(err)
	}

	auth, err := s.Authorize(ctx, 7, tier.UHD)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !auth.Allowed || auth.Tier != tier.QHD || auth.FreePath {
		t.Fatalf("expected 2k downgrade, got %+v", auth)
	}
	if err := s.Commit(ctx, 7, auth, true); err != nil {
		t.Fatalf("commit: %v", err)
	}
	acct, _ := s.Get(ctx, 7)
	if acct.Tokens != 10 {
		t.Fatalf("balance = %d, want 10", acct.Tokens)
	}
}

func TestAuthorize_Denied(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()

	if _, err := s.Provision(ctx, 9, false); err != nil {
		t.Fatal(err)
	}
	if err := s.CreditTokens(ctx, 9, 10); err != nil {
		t.Fatal(err)
	}

	auth, err := s.Authorize(ctx, 9, tier.FullHD)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if auth.Allowed {
		t.Fatalf("expected denial, got %+v", auth)
	}
	if auth.Reason != "insufficient tokens" {
		t.Fatalf("reason = %q", auth.Reason)
	}
	acct, _ := s.Get(ctx, 9)
	if acct.Tokens != 10 || acct.TotalConversions != 0 {
		t.Fatalf("denial changed state: %+v", acct)
	}
}

func TestAuthorize_AdminBypassesDebit(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()

	if _, err := s.Provision(ctx, 1, true); err != nil {
		t.Fatal(err)
	}
	auth, err := s.Authorize(ctx, 1, tier.UHD)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !auth.Allowed || auth.Tier != tier.UHD || !auth.Admin {
		t.Fatalf("unexpected admin auth: %+v", auth)
	}
	if err := s.Commit(ctx, 1, auth, true); err != nil {
		t.Fatalf("commit: %v", err)
	}
	acct, _ := s.Get(ctx, 1)
	if acct.Tokens != 0 || acct.FreeRemaining != 0 {
		t.Fatalf("admin commit touched balances: %+v", acct)
	}
	if acct.TotalConversions != 1 {
		t.Fatalf("admin conversions = %d, want 1", acct.TotalConversions)
	}
}

func TestCommit_FailureIsFree(t *testing.T) {
	s := newStore(t, 2)
	ctx := context.Background()

	auth, err := s.Authorize(ctx, 5, tier.FullHD)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := s.Commit(ctx, 5, auth, false); err != nil {
		t.Fatalf("commit failure: %v", err)
	}
	acct, _ := s.Get(ctx, 5)
	if acct.FreeRemaining != 2 || acct.Tokens != 0 || acct.TotalConversions != 0 {
		t.Fatalf("failed commit changed state: %+v", acct)
	}
}

func TestCommit_NeverOverdraws(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()

	if _, err := s.Provision(ctx, 11, false); err != nil {
		t.Fatal(err)
	}
	if err := s.CreditTokens(ctx, 11, 50); err != nil {
		t.Fatal(err)
	}

	// Two authorizations against the same balance: only one may settle.
	first, err := s.Authorize(ctx, 11, tier.QHD)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Authorize(ctx, 11, tier.QHD)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(ctx, 11, first, true); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	err = s.Commit(ctx, 11, second, true)
	if !errors.Is(err, fault.ErrLedgerIO) {
		t.Fatalf("expected ledger error on overdraw, got %v", err)
	}
	acct, _ := s.Get(ctx, 11)
	if acct.Tokens != 0 {
		t.Fatalf("balance = %d, want 0 (never negative)", acct.Tokens)
	}
	if acct.TotalConversions != 1 {
		t.Fatalf("conversions = %d, want 1", acct.TotalConversions)
	}
}

func TestCommit_ConcurrentRace(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()

	if _, err := s.Provision(ctx, 12, false); err != nil {
		t.Fatal(err)
	}
	if err := s.CreditTokens(ctx, 12, 50); err != nil {
		t.Fatal(err)
	}

	// Eight workers race authorize+commit against a balance that covers two
	// conversions. The conditional debit must settle exactly two of them.
	const workers = 8
	var wg sync.WaitGroup
	var settled, refused atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			auth, err := s.Authorize(ctx, 12, tier.FullHD)
			if err != nil {
				t.Errorf("authorize: %v", err)
				return
			}
			if !auth.Allowed {
				// Raced behind a settled debit that drained the balance.
				refused.Add(1)
				return
			}
			switch err := s.Commit(ctx, 12, auth, true); {
			case err == nil:
				settled.Add(1)
			case errors.Is(err, fault.ErrLedgerIO):
				refused.Add(1)
			default:
				t.Errorf("commit: %v", err)
			}
		}()
	}
	wg.Wait()

	if settled.Load() != 2 || refused.Load() != workers-2 {
		t.Fatalf("settled = %d, refused = %d, want 2 and %d", settled.Load(), refused.Load(), workers-2)
	}
	acct, err := s.Get(ctx, 12)
	if err != nil {
		t.Fatal(err)
	}
	if acct.Tokens != 0 {
		t.Fatalf("balance = %d, want 0 (never negative)", acct.Tokens)
	}
	if acct.TotalConversions != 2 {
		t.Fatalf("conversions = %d, want 2", acct.TotalConversions)
	}
}

func TestGrantSubscription_ExtendsAndAwards(t *testing.T) {
	s := newStore(t, 3)
	ctx := context.Background()

	if _, err := s.Provision(ctx, 20, false); err != nil {
		t.Fatal(err)
	}
	plan, err := PlanByKey("1m")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.GrantSubscription(ctx, 20, plan); err != nil {
		t.Fatalf("grant: %v", err)
	}
	acct, _ := s.Get(ctx, 20)
	if acct.Tokens != 1000 || acct.Payments != 1 {
		t.Fatalf("after grant: %+v", acct)
	}
	if acct.SubscriptionUntil == nil || !acct.Subscribed(time.Now().UTC()) {
		t.Fatal("subscription window not set")
	}
	firstUntil := *acct.SubscriptionUntil

	// Granting again extends from the current expiry, not from now.
	if err := s.GrantSubscription(ctx, 20, plan); err != nil {
		t.Fatalf("second grant: %v", err)
	}
	acct, _ = s.Get(ctx, 20)
	if !acct.SubscriptionUntil.After(firstUntil.AddDate(0, 0, plan.Days-1)) {
		t.Fatalf("expected extension from %v, got %v", firstUntil, acct.SubscriptionUntil)
	}
}

func TestGrantSubscription_ConcurrentGrantsStack(t *testing.T) {
	s := newStore(t, 3)
	ctx := context.Background()

	if _, err := s.Provision(ctx, 13, false); err != nil {
		t.Fatal(err)
	}
	plan, err := PlanByKey("1m")
	if err != nil {
		t.Fatal(err)
	}

	// Four simultaneous purchases must each extend the window; none may
	// overwrite another's extension.
	const grants = 4
	var wg sync.WaitGroup
	for i := 0; i < grants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.GrantSubscription(ctx, 13, plan); err != nil {
				t.Errorf("grant: %v", err)
			}
		}()
	}
	wg.Wait()

	acct, err := s.Get(ctx, 13)
	if err != nil {
		t.Fatal(err)
	}
	if acct.Payments != grants {
		t.Fatalf("payments = %d, want %d", acct.Payments, grants)
	}
	if acct.Tokens != grants*plan.Tokens {
		t.Fatalf("tokens = %d, want %d", acct.Tokens, grants*plan.Tokens)
	}
	floor := time.Now().UTC().AddDate(0, 0, grants*plan.Days-1)
	if acct.SubscriptionUntil == nil || acct.SubscriptionUntil.Before(floor) {
		t.Fatalf("expiry %v, want at least %v (all extensions stacked)", acct.SubscriptionUntil, floor)
	}
}

func TestSubscription_DoesNotUnlockTiers(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()

	if _, err := s.Provision(ctx, 21, false); err != nil {
		t.Fatal(err)
	}
	plan, _ := PlanByKey("1m")
	if err := s.GrantSubscription(ctx, 21, plan); err != nil {
		t.Fatal(err)
	}
	// Drain the granted tokens and free allotment down to nothing.
	if err := s.ResetUsage(ctx, 21); err != nil {
		t.Fatal(err)
	}
	for {
		auth, err := s.Authorize(ctx, 21, tier.UHD)
		if err != nil {
			t.Fatal(err)
		}
		if !auth.Allowed {
			break
		}
		if err := s.Commit(ctx, 21, auth, true); err != nil {
			t.Fatal(err)
		}
	}
	acct, _ := s.Get(ctx, 21)
	if !acct.Subscribed(time.Now().UTC()) {
		t.Fatal("subscription should still be active")
	}
	auth, err := s.Authorize(ctx, 21, tier.FullHD)
	if err != nil {
		t.Fatal(err)
	}
	if auth.Allowed {
		t.Fatalf("active subscription must not authorize without tokens: %+v, account %+v", auth, acct)
	}
}

func TestRecordReferral(t *testing.T) {
	s := newStore(t, 3)
	ctx := context.Background()

	if err := s.RecordReferral(ctx, 100, 200); err != nil {
		t.Fatalf("record referral: %v", err)
	}
	referrer, _ := s.Get(ctx, 100)
	if referrer.Tokens != 100 || referrer.ReferralCredits != 1 {
		t.Fatalf("referrer after referral: %+v", referrer)
	}
	invitee, _ := s.Get(ctx, 200)
	if invitee.ReferrerID == nil || *invitee.ReferrerID != 100 {
		t.Fatalf("invitee referrer = %v", invitee.ReferrerID)
	}

	// repeats and self-referrals pay nothing
	if err := s.RecordReferral(ctx, 300, 200); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordReferral(ctx, 100, 100); err != nil {
		t.Fatal(err)
	}
	referrer, _ = s.Get(ctx, 100)
	if referrer.Tokens != 100 || referrer.ReferralCredits != 1 {
		t.Fatalf("referrer paid twice: %+v", referrer)
	}
}

func TestBlock_DeniesAuthorization(t *testing.T) {
	s := newStore(t, 3)
	ctx := context.Background()

	if _, err := s.Provision(ctx, 50, false); err != nil {
		t.Fatal(err)
	}
	if err := s.Block(ctx, 50, time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	auth, err := s.Authorize(ctx, 50, tier.FullHD)
	if err != nil {
		t.Fatal(err)
	}
	if auth.Allowed {
		t.Fatal("blocked user authorized")
	}
	if err := s.Unblock(ctx, 50); err != nil {
		t.Fatal(err)
	}
	auth, err = s.Authorize(ctx, 50, tier.FullHD)
	if err != nil {
		t.Fatal(err)
	}
	if !auth.Allowed {
		t.Fatal("unblocked user still denied")
	}
}

func TestAdminAdjustments_UnknownUser(t *testing.T) {
	s := newStore(t, 3)
	ctx := context.Background()

	if err := s.CreditTokens(ctx, 999, 10); !errors.Is(err, fault.ErrUnknownUser) {
		t.Fatalf("credit tokens: %v", err)
	}
	if err := s.ResetUsage(ctx, 999); !errors.Is(err, fault.ErrUnknownUser) {
		t.Fatalf("reset usage: %v", err)
	}
	if _, err := s.Get(ctx, 999); !errors.Is(err, fault.ErrUnknownUser) {
		t.Fatalf("get: %v", err)
	}
}

func TestSummary(t *testing.T) {
	s := newStore(t, 1)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		auth, err := s.Authorize(ctx, id, tier.FullHD)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Commit(ctx, id, auth, true); err != nil {
			t.Fatal(err)
		}
	}
	plan, _ := PlanByKey("1m")
	if err := s.GrantSubscription(ctx, 2, plan); err != nil {
		t.Fatal(err)
	}

	st, err := s.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if st.Users != 3 || st.Conversions != 3 || st.Payments != 1 {
		t.Fatalf("summary = %+v", st)
	}
}

func TestOpen_SecondProcessLockedOut(t *testing.T) {
	dir := t.TempDir()
	opts := Options{Dir: dir, FreeConversions: 3, ReferralBonusTokens: 100, Logger: logging.NewNop()}
	first, err := Open(opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer first.Close()

	if _, err := Open(opts); err == nil {
		t.Fatal("expected second open on the same dir to fail")
	}
}
