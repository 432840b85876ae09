package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/votepool/internal/contract"
)

// AccountsOptions holds flags for the accounts subcommands.
type AccountsOptions struct {
	*RootOptions
	To     string
	Amount int64
}

// NewAccountsCommand creates the accounts command group.
func NewAccountsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AccountsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect and fund native accounts",
	}

	fund := &cobra.Command{
		Use:   "fund",
		Short: "Credit an account out of thin air",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFund(opts, cmd)
		},
	}
	fund.Flags().StringVar(&opts.To, "to", "", "account address")
	fund.Flags().Int64Var(&opts.Amount, "amount", 0, "amount in gwei")
	_ = fund.MarkFlagRequired("amount")

	balance := &cobra.Command{
		Use:   "balance [address]",
		Short: "Show balances (all accounts when no address is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBalance(opts, args, cmd)
		},
	}

	block := &cobra.Command{
		Use:   "block <address>",
		Short: "Make an account reject incoming transfers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetBlocked(opts, args[0], true, cmd)
		},
	}
	unblock := &cobra.Command{
		Use:   "unblock <address>",
		Short: "Let an account receive transfers again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetBlocked(opts, args[0], false, cmd)
		},
	}

	cmd.AddCommand(fund, balance, block, unblock)
	return cmd
}

func runFund(opts *AccountsOptions, cmd *cobra.Command) error {
	addr, err := parseAddressFlag("to", opts.To)
	if err != nil {
		return err
	}
	if opts.Amount <= 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--amount must be positive, got %d", opts.Amount))
	}

	f := opts.formatter(cmd)
	return withSession(cmd, opts.RootOptions, true, func(s *session) error {
		if err := s.chain.Fund(addr, contract.Amount(opts.Amount)); err != nil {
			return txFailure(f, err)
		}
		balance := s.chain.Balance(addr)
		data := map[string]interface{}{"address": addr.Hex(), "balance": int64(balance)}
		return f.Success(data, fmt.Sprintf("Funded %s\n  balance: %s", addr.Hex(), formatAmount(balance)))
	})
}

func runBalance(opts *AccountsOptions, args []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	return withSession(cmd, opts.RootOptions, false, func(s *session) error {
		if len(args) == 1 {
			addr, err := parseAddressFlag("address", args[0])
			if err != nil {
				return err
			}
			balance := s.chain.Balance(addr)
			data := map[string]interface{}{"address": addr.Hex(), "balance": int64(balance)}
			return f.Success(data, fmt.Sprintf("%s: %s", addr.Hex(), formatAmount(balance)))
		}

		accounts := s.chain.Accounts()
		if opts.Format == "json" {
			return f.Success(accounts, "")
		}
		if len(accounts) == 0 {
			return f.Success(nil, "No accounts.")
		}
		rows := make([][]string, len(accounts))
		for i, acc := range accounts {
			rows[i] = []string{
				acc.Address.Hex(),
				formatAmount(acc.Balance),
				strconv.FormatUint(acc.Nonce, 10),
				strconv.FormatBool(acc.Blocked),
			}
		}
		return renderTable(f.Writer, []string{"ADDRESS", "BALANCE", "NONCE", "BLOCKED"}, rows)
	})
}

func runSetBlocked(opts *AccountsOptions, raw string, blocked bool, cmd *cobra.Command) error {
	addr, err := parseAddressFlag("address", raw)
	if err != nil {
		return err
	}

	f := opts.formatter(cmd)
	return withSession(cmd, opts.RootOptions, true, func(s *session) error {
		verb := "Unblocked"
		if blocked {
			s.chain.Block(addr)
			verb = "Blocked"
		} else {
			s.chain.Unblock(addr)
		}
		data := map[string]interface{}{"address": addr.Hex(), "blocked": blocked}
		return f.Success(data, fmt.Sprintf("%s %s", verb, addr.Hex()))
	})
}

// NewAdvanceTimeCommand creates the advance-time command.
func NewAdvanceTimeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "advance-time <duration>",
		Short: "Move ledger time forward",
		Long: `Move ledger time forward by a Go duration such as 72h or 90m.

The offset is persisted with the ledger, so later commands see the advanced
time. Time never moves backwards.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := time.ParseDuration(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid duration", err)
			}

			f := rootOpts.formatter(cmd)
			return withSession(cmd, rootOpts, true, func(s *session) error {
				if err := s.chain.AdvanceTime(d); err != nil {
					return txFailure(f, err)
				}
				now := s.chain.Now()
				data := map[string]interface{}{"now": now.UTC().Format(time.RFC3339)}
				return f.Success(data, "Ledger time is now "+now.UTC().Format(time.RFC3339))
			})
		},
	}
	return cmd
}

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	Contract string
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Contract, "contract", "", "only events of this contract")

	return cmd
}

func runEvents(opts *EventsOptions, cmd *cobra.Command) error {
	var filter *contract.Address
	if opts.Contract != "" {
		addr, err := parseAddressFlag("contract", opts.Contract)
		if err != nil {
			return err
		}
		filter = &addr
	}

	f := opts.formatter(cmd)
	return withSession(cmd, opts.RootOptions, false, func(s *session) error {
		records, err := s.store.ReadEvents(commandContext(cmd), filter)
		if err != nil {
			return WrapExitError(ExitCommandError, "read events", err)
		}

		if opts.Format == "json" {
			return f.Success(eventData(records), "")
		}
		if len(records) == 0 {
			return f.Success(nil, "No events.")
		}
		rows := make([][]string, len(records))
		for i, rec := range records {
			payload, err := rec.Payload.MarshalJSON()
			if err != nil {
				return WrapExitError(ExitCommandError, "encode payload", err)
			}
			rows[i] = []string{
				fmt.Sprintf("%d.%d", rec.Seq, rec.Index),
				rec.Contract.Hex(),
				string(rec.Kind),
				string(payload),
			}
		}
		return renderTable(f.Writer, []string{"SEQ", "CONTRACT", "KIND", "PAYLOAD"}, rows)
	})
}

// NewTransactionsCommand creates the transactions command.
func NewTransactionsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "Print the committed transaction log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			return withSession(cmd, rootOpts, false, func(s *session) error {
				txs, err := s.store.ReadTransactions(commandContext(cmd))
				if err != nil {
					return WrapExitError(ExitCommandError, "read transactions", err)
				}

				if rootOpts.Format == "json" {
					return f.Success(txs, "")
				}
				if len(txs) == 0 {
					return f.Success(nil, "No transactions.")
				}
				rows := make([][]string, len(txs))
				for i, tx := range txs {
					rows[i] = []string{
						strconv.FormatInt(tx.Seq, 10),
						tx.Method,
						tx.From.Hex(),
						tx.To.Hex(),
						formatAmount(tx.Value),
						tx.Time.UTC().Format(time.RFC3339),
					}
				}
				return renderTable(f.Writer, []string{"SEQ", "METHOD", "FROM", "TO", "VALUE", "TIME"}, rows)
			})
		},
	}
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
