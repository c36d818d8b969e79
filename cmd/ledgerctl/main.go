package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"sorapixel/internal/adapter/repo"
	"sorapixel/internal/infra"
	"sorapixel/internal/ledger"
)

// opener builds the ledger for one invocation and returns its cleanup.
type opener func(ctx context.Context) (*ledger.Service, func(), error)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd(openPostgres).Execute(); err != nil {
		os.Exit(1)
	}
}

func openPostgres(ctx context.Context) (*ledger.Service, func(), error) {
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		return nil, nil, errors.New("DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect database: %w", err)
	}
	logger := infra.NewLogger("cli").With().Str("cmd", "ledgerctl").Logger()
	runner := infra.NewSQLRunner(pool, logger)
	svc := ledger.New(repo.NewAccountRepository(runner), ledger.Options{
		FreeLimit:         envInt("FREE_STUDIO_LIMIT", 9),
		DailyRewardTokens: envInt("DAILY_REWARD_TOKENS", 2),
		Logger:            &logger,
	})
	return svc, pool.Close, nil
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func newRootCmd(open opener) *cobra.Command {
	var timeout time.Duration
	var svc *ledger.Service
	var cleanup func()

	root := &cobra.Command{
		Use:          "ledgerctl",
		Short:        "Inspect and adjust account token balances",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			cmd.SetContext(ctx)
			s, c, err := open(ctx)
			if err != nil {
				cancel()
				return err
			}
			svc = s
			cleanup = func() {
				if c != nil {
					c()
				}
				cancel()
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if cleanup != nil {
				cleanup()
			}
		},
	}
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "deadline for the whole command")

	service := func() *ledger.Service { return svc }
	root.AddCommand(
		newCreateCmd(service),
		newBalanceCmd(service),
		newAddCmd(service),
		newAdjustCmd(service),
		newClaimCmd(service),
	)
	return root
}

func newCreateCmd(svc func() *ledger.Service) *cobra.Command {
	var tokens int
	cmd := &cobra.Command{
		Use:   "create <account>",
		Short: "Open an account with an opening balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := svc().OpenAccount(cmd.Context(), args[0], tokens); err != nil {
				return err
			}
			return printBalance(cmd, svc(), args[0])
		},
	}
	cmd.Flags().IntVar(&tokens, "tokens", 0, "opening token balance")
	return cmd
}

func newBalanceCmd(svc func() *ledger.Service) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account>",
		Short: "Show the balance snapshot of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printBalance(cmd, svc(), args[0])
		},
	}
}

func newAddCmd(svc func() *ledger.Service) *cobra.Command {
	return &cobra.Command{
		Use:   "add <account> <amount>",
		Short: "Credit a positive amount of tokens",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("amount must be an integer: %w", err)
			}
			balance, err := svc().AddTokens(cmd.Context(), args[0], amount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %s token_balance=%d\n", args[0], balance)
			return nil
		},
	}
}

func newAdjustCmd(svc func() *ledger.Service) *cobra.Command {
	return &cobra.Command{
		Use:   "adjust <account> <delta>",
		Short: "Apply a signed token delta (use -- before negative values)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("delta must be an integer: %w", err)
			}
			balance, err := svc().AdjustTokens(cmd.Context(), args[0], delta)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %s token_balance=%d\n", args[0], balance)
			return nil
		},
	}
}

func newClaimCmd(svc func() *ledger.Service) *cobra.Command {
	return &cobra.Command{
		Use:   "claim <account>",
		Short: "Claim the daily reward on behalf of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reward, err := svc().ClaimDailyReward(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !reward.Granted {
				fmt.Fprintf(cmd.OutOrStdout(), "account %s already claimed today token_balance=%d\n", args[0], reward.NewBalance)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %s granted %d tokens token_balance=%d\n", args[0], reward.TokensAdded, reward.NewBalance)
			return nil
		},
	}
}

func printBalance(cmd *cobra.Command, svc *ledger.Service, accountID string) error {
	b, err := svc.GetBalance(cmd.Context(), accountID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "account %s token_balance=%d free_used=%d/%d daily_reward_available=%t\n",
		b.AccountID, b.TokenBalance, b.FreeUsed, b.FreeLimit, b.DailyRewardAvailable)
	return nil
}
