package cli

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"subburn/internal/ledger"
)

func newAccountCommand(app *appContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Inspect and adjust user accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newAccountListCommand(app))
	cmd.AddCommand(newAccountShowCommand(app))
	cmd.AddCommand(newAccountProvisionCommand(app))
	cmd.AddCommand(newAccountSubscribeCommand(app))
	cmd.AddCommand(newAccountAddTokensCommand(app))
	cmd.AddCommand(newAccountResetCommand(app))
	cmd.AddCommand(newAccountReferralCommand(app))
	cmd.AddCommand(newAccountBlockCommand(app))
	cmd.AddCommand(newAccountUnblockCommand(app))

	return cmd
}

func parseUserArg(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", arg)
	}
	return id, nil
}

func newAccountListCommand(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, _, err := app.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			accounts, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(accounts))
			now := time.Now()
			for _, a := range accounts {
				rows = append(rows, []string{
					strconv.FormatInt(a.UserID, 10),
					strconv.Itoa(a.FreeRemaining),
					strconv.Itoa(a.Tokens),
					formatUntil(a.SubscriptionUntil, now),
					formatUntil(a.BlockedUntil, now),
					strconv.Itoa(a.TotalConversions),
					formatBool(a.Admin),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"User", "Free", "Tokens", "Subscribed", "Blocked", "Conversions", "Admin"},
				rows,
				[]columnAlignment{alignRight, alignRight, alignRight, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newAccountShowCommand(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <user>",
		Short: "Show one account in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserArg(args[0])
			if err != nil {
				return err
			}
			store, _, _, err := app.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			a, err := store.Get(cmd.Context(), userID)
			if err != nil {
				return err
			}
			now := time.Now()
			referrer := "-"
			if a.ReferrerID != nil {
				referrer = strconv.FormatInt(*a.ReferrerID, 10)
			}
			rows := [][]string{
				{"User", strconv.FormatInt(a.UserID, 10)},
				{"Free conversions left", strconv.Itoa(a.FreeRemaining)},
				{"Tokens", strconv.Itoa(a.Tokens)},
				{"Subscribed until", formatUntil(a.SubscriptionUntil, now)},
				{"Blocked until", formatUntil(a.BlockedUntil, now)},
				{"Total conversions", strconv.Itoa(a.TotalConversions)},
				{"Referrals credited", strconv.Itoa(a.ReferralCredits)},
				{"Referred by", referrer},
				{"Payments", strconv.Itoa(a.Payments)},
				{"Admin", formatBool(a.Admin)},
				{"Created", a.CreatedAt.Format(time.RFC3339)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Field", "Value"}, rows,
				[]columnAlignment{alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func newAccountProvisionCommand(app *appContext) *cobra.Command {
	var admin bool

	cmd := &cobra.Command{
		Use:   "provision <user>",
		Short: "Create an account ahead of its first conversion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserArg(args[0])
			if err != nil {
				return err
			}
			store, _, _, err := app.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			a, err := store.Provision(cmd.Context(), userID, admin)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d: %d free conversions, %d tokens\n",
				a.UserID, a.FreeRemaining, a.Tokens)
			return nil
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant the admin bypass at creation")
	return cmd
}

func newAccountSubscribeCommand(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe <user> <plan>",
		Short: "Grant a subscription plan and its token award",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserArg(args[0])
			if err != nil {
				return err
			}
			plan, err := ledger.PlanByKey(args[1])
			if err != nil {
				return err
			}
			store, _, _, err := app.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.GrantSubscription(cmd.Context(), userID, plan); err != nil {
				return err
			}
			a, err := store.Get(cmd.Context(), userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d subscribed until %s, %d tokens\n",
				userID, formatUntil(a.SubscriptionUntil, time.Now()), a.Tokens)
			return nil
		},
	}
}

func newAccountAddTokensCommand(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add-tokens <user> <amount>",
		Short: "Credit tokens to an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserArg(args[0])
			if err != nil {
				return err
			}
			amount, err := strconv.Atoi(args[1])
			if err != nil || amount <= 0 {
				return fmt.Errorf("invalid token amount %q", args[1])
			}
			store, _, _, err := app.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.CreditTokens(cmd.Context(), userID, amount); err != nil {
				return err
			}
			a, err := store.Get(cmd.Context(), userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d now has %d tokens\n", userID, a.Tokens)
			return nil
		},
	}
}

func newAccountResetCommand(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-usage <user>",
		Short: "Restore the free conversion allotment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserArg(args[0])
			if err != nil {
				return err
			}
			store, _, _, err := app.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			return store.ResetUsage(cmd.Context(), userID)
		},
	}
}

func newAccountReferralCommand(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "referral <referrer> <invitee>",
		Short: "Record that invitee joined through referrer's link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			referrerID, err := parseUserArg(args[0])
			if err != nil {
				return err
			}
			inviteeID, err := parseUserArg(args[1])
			if err != nil {
				return err
			}
			store, _, _, err := app.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			return store.RecordReferral(cmd.Context(), referrerID, inviteeID)
		},
	}
}

func newAccountBlockCommand(app *appContext) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "block <user>",
		Short: "Block an account from new conversions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserArg(args[0])
			if err != nil {
				return err
			}
			if days <= 0 {
				return fmt.Errorf("block duration must be positive, got %d days", days)
			}
			store, _, _, err := app.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			until := time.Now().AddDate(0, 0, days)
			if err := store.Block(cmd.Context(), userID, until); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d blocked until %s\n", userID, until.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Block duration in days")
	return cmd
}

func newAccountUnblockCommand(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <user>",
		Short: "Lift an account block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserArg(args[0])
			if err != nil {
				return err
			}
			store, _, _, err := app.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			return store.Unblock(cmd.Context(), userID)
		},
	}
}

func newStatsCommand(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show ledger totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, _, err := app.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Summary(cmd.Context())
			if err != nil {
				return err
			}
			rows := [][]string{
				{"Users", strconv.Itoa(stats.Users)},
				{"Conversions", strconv.Itoa(stats.Conversions)},
				{"Payments", strconv.Itoa(stats.Payments)},
				{"Tokens outstanding", strconv.Itoa(stats.TokensOutstanding)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Metric", "Value"}, rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		},
	}
}

func newPlansCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List subscription plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plans := ledger.Plans()
			keys := make([]string, 0, len(plans))
			for k := range plans {
				keys = append(keys, k)
			}
			sort.Slice(keys, func(i, j int) bool {
				return plans[keys[i]].Days < plans[keys[j]].Days
			})
			rows := make([][]string, 0, len(keys))
			for _, k := range keys {
				p := plans[k]
				rows = append(rows, []string{
					p.Key,
					strconv.Itoa(p.Days),
					strconv.Itoa(p.Tokens),
					fmt.Sprintf("$%.2f", p.PriceUSD),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Plan", "Days", "Tokens", "Price"}, rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
}

func formatUntil(t *time.Time, now time.Time) string {
	if t == nil || !t.After(now) {
		return "-"
	}
	return t.Format("2006-01-02")
}

func formatBool(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}
