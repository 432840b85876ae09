package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/votepool/internal/chain"
	"github.com/roach88/votepool/internal/config"
	"github.com/roach88/votepool/internal/contract"
	"github.com/roach88/votepool/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	DB      string // path to the SQLite ledger
	From    string // sender address of transactions

	// Params is the default CUE parameter file for deploy (VOTEPOOL_PARAMS).
	Params string

	logger *zap.Logger
	clock  chain.Clock
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the votepool CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{clock: chain.SystemClock{}})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "votepool",
		Short: "votepool - deposit-backed voting rounds",
		Long: `A ledger of voting rounds. Voters escrow a fixed deposit for one candidate;
once the deadline passes anyone can finalize the round, paying the pool to the
leading candidate minus the owner's commission.

Defaults for --db and --from come from VOTEPOOL_DB and VOTEPOOL_FROM
(a .env file in the working directory is read first).`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.applyEnvironment(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "path to SQLite ledger (default $VOTEPOOL_DB or votepool.db)")
	cmd.PersistentFlags().StringVar(&opts.From, "from", "", "sender address (default $VOTEPOOL_FROM)")

	cmd.AddCommand(NewDeployCommand(opts))
	cmd.AddCommand(NewCreateVotingCommand(opts))
	cmd.AddCommand(NewVoteCommand(opts))
	cmd.AddCommand(NewEndVotingCommand(opts))
	cmd.AddCommand(NewTransferCommand(opts))
	cmd.AddCommand(NewCommissionCommand(opts))
	cmd.AddCommand(NewCandidateInfoCommand(opts))
	cmd.AddCommand(NewEndInfoCommand(opts))
	cmd.AddCommand(NewRoundsCommand(opts))
	cmd.AddCommand(NewAccountsCommand(opts))
	cmd.AddCommand(NewAdvanceTimeCommand(opts))
	cmd.AddCommand(NewEventsCommand(opts))
	cmd.AddCommand(NewTransactionsCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// applyEnvironment fills unset global flags from the environment and builds
// the logger.
func (o *RootOptions) applyEnvironment(cmd *cobra.Command) error {
	cfg, err := config.New()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read configuration", err)
	}

	if !cmd.Flags().Changed("db") {
		o.DB = cfg.DB
	}
	if !cmd.Flags().Changed("from") {
		o.From = cfg.From
	}
	if o.Params == "" {
		o.Params = cfg.Params
	}
	if o.clock == nil {
		o.clock = chain.SystemClock{}
	}

	if o.logger == nil {
		level := cfg.LogLevel
		if o.Verbose {
			level = "debug"
		}
		logger, err := logging.New(level)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to build logger", err)
		}
		o.logger = logger
	}
	return nil
}

// formatter returns an OutputFormatter writing to the command's streams.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// sender parses --from. Transactions cannot be sent without it.
func (o *RootOptions) sender() (contract.Address, error) {
	if o.From == "" {
		return contract.Address{}, NewExitError(ExitCommandError, "--from (or VOTEPOOL_FROM) is required")
	}
	return parseAddressFlag("from", o.From)
}

// parseAddressFlag parses an address-valued flag.
func parseAddressFlag(name, value string) (contract.Address, error) {
	if value == "" {
		return contract.Address{}, NewExitError(ExitCommandError, fmt.Sprintf("--%s is required", name))
	}
	addr, err := contract.ParseAddress(value)
	if err != nil {
		return contract.Address{}, WrapExitError(ExitCommandError, fmt.Sprintf("invalid --%s", name), err)
	}
	return addr, nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
