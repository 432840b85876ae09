package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/votepool/internal/chain"
	"github.com/roach88/votepool/internal/contract"
	"github.com/roach88/votepool/internal/ir"
	"github.com/roach88/votepool/internal/params"
)

// TxData is the JSON payload of a committed transaction.
type TxData struct {
	Seq    int64       `json:"seq"`
	Hash   string      `json:"hash"`
	Method string      `json:"method"`
	Events []EventData `json:"events"`
	Result ir.IRObject `json:"result,omitempty"`
}

// EventData is the JSON form of one emitted event.
type EventData struct {
	Seq      int64       `json:"seq"`
	Index    int         `json:"index"`
	Contract string      `json:"contract"`
	Kind     string      `json:"kind"`
	Payload  ir.IRObject `json:"payload"`
}

func txData(r *chain.Receipt, result ir.IRObject) TxData {
	return TxData{
		Seq:    r.Tx.Seq,
		Hash:   r.Tx.Hash,
		Method: r.Tx.Method,
		Events: eventData(r.Events),
		Result: result,
	}
}

func eventData(records []chain.EventRecord) []EventData {
	out := make([]EventData, len(records))
	for i, rec := range records {
		out[i] = EventData{
			Seq:      rec.Seq,
			Index:    rec.Index,
			Contract: rec.Contract.Hex(),
			Kind:     string(rec.Kind),
			Payload:  rec.Payload,
		}
	}
	return out
}

// txFailure turns a failed chain call into the command's error. Rejections
// are reported through the formatter; anything else is a command error.
func txFailure(f *OutputFormatter, err error) error {
	if rejectionCode(err) != "" {
		return f.Reject(err)
	}
	return WrapExitError(ExitCommandError, "transaction failed", err)
}

// DeployOptions holds flags for the deploy command.
type DeployOptions struct {
	*RootOptions
	ParamsFile string
}

// NewDeployCommand creates the deploy command.
func NewDeployCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeployOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a new voting contract owned by --from",
		Long: `Deploy a new voting contract instance owned by the sender.

Parameters are read from a CUE file (--params, or $VOTEPOOL_PARAMS).
Without one the reference parameters apply: a 0.01 ETH deposit, 72h rounds
and a 10% commission.

Example:
  votepool deploy --from 0xOwner --params params.cue`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ParamsFile, "params", "", "CUE parameter file or package directory")

	return cmd
}

func runDeploy(opts *DeployOptions, cmd *cobra.Command) error {
	from, err := opts.sender()
	if err != nil {
		return err
	}

	path := opts.ParamsFile
	if path == "" {
		path = opts.Params
	}
	cfg, err := params.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid parameters", err)
	}

	f := opts.formatter(cmd)
	return withSession(cmd, opts.RootOptions, true, func(s *session) error {
		addr, receipt, err := s.chain.Deploy(from, cfg)
		if err != nil {
			return txFailure(f, err)
		}
		s.logger.Debug("deployed", zap.String("contract", addr.Hex()), zap.String("params", path))
		f.VerboseLog("Deployed at seq %d", receipt.Tx.Seq)

		data := struct {
			Contract          string `json:"contract"`
			Owner             string `json:"owner"`
			Seq               int64  `json:"seq"`
			Deposit           int64  `json:"deposit"`
			RoundDuration     string `json:"round_duration"`
			CommissionPercent int64  `json:"commission_percent"`
		}{
			Contract:          addr.Hex(),
			Owner:             from.Hex(),
			Seq:               receipt.Tx.Seq,
			Deposit:           int64(cfg.Deposit),
			RoundDuration:     cfg.RoundDuration.String(),
			CommissionPercent: cfg.CommissionPercent,
		}
		text := fmt.Sprintf("Deployed %s\n  owner:      %s\n  deposit:    %s\n  duration:   %s\n  commission: %d%%",
			addr.Hex(), from.Hex(), formatAmount(cfg.Deposit), cfg.RoundDuration, cfg.CommissionPercent)
		return f.Success(data, text)
	})
}

// CreateVotingOptions holds flags for the create-voting command.
type CreateVotingOptions struct {
	*RootOptions
	Contract   string
	Candidates []string
}

// NewCreateVotingCommand creates the create-voting command.
func NewCreateVotingCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateVotingOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create-voting",
		Short: "Open a voting round (owner only)",
		Long: `Open a voting round over a fixed list of candidates.

Only the contract owner may create rounds. The deadline is the current time
plus the contract's round duration.

Example:
  votepool create-voting --from 0xOwner --candidates 0xA...,0xB...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreateVoting(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Contract, "contract", "", "contract address (default: the only deployed instance)")
	cmd.Flags().StringSliceVar(&opts.Candidates, "candidates", nil, "comma-separated candidate addresses")

	return cmd
}

func runCreateVoting(opts *CreateVotingOptions, cmd *cobra.Command) error {
	from, err := opts.sender()
	if err != nil {
		return err
	}

	candidates := make([]contract.Address, 0, len(opts.Candidates))
	for _, raw := range opts.Candidates {
		addr, err := parseAddressFlag("candidates", strings.TrimSpace(raw))
		if err != nil {
			return err
		}
		candidates = append(candidates, addr)
	}

	f := opts.formatter(cmd)
	return withSession(cmd, opts.RootOptions, true, func(s *session) error {
		to, err := s.instance(opts.Contract)
		if err != nil {
			return err
		}
		receipt, err := s.chain.CreateVoting(from, to, candidates)
		if err != nil {
			return txFailure(f, err)
		}

		deadline, err := s.chain.EndInfo(to, receipt.Result.RoundID)
		if err != nil {
			return WrapExitError(ExitCommandError, "read deadline", err)
		}
		result := ir.IRObject{
			"round_id": ir.IRInt(receipt.Result.RoundID),
			"deadline": ir.IRString(deadline.UTC().Format(time.RFC3339)),
		}
		text := fmt.Sprintf("Created round %d with %d candidates\n  deadline: %s",
			receipt.Result.RoundID, len(candidates), formatDeadline(deadline, s.chain.Now()))
		return f.Success(txData(receipt, result), text)
	})
}

// VoteOptions holds flags for the vote command.
type VoteOptions struct {
	*RootOptions
	Contract  string
	RoundID   uint64
	Candidate int
	Value     int64
}

// NewVoteCommand creates the vote command.
func NewVoteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VoteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "vote",
		Short: "Vote for a candidate, escrowing the deposit",
		Long: `Vote for candidate --cid in round --vid.

The attached value defaults to the contract's deposit. Any other value is
rejected with WRONG_DEPOSIT.

Example:
  votepool vote --from 0xVoter --vid 0 --cid 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVote(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Contract, "contract", "", "contract address (default: the only deployed instance)")
	cmd.Flags().Uint64Var(&opts.RoundID, "vid", 0, "round id")
	cmd.Flags().IntVar(&opts.Candidate, "cid", 0, "candidate index")
	cmd.Flags().Int64Var(&opts.Value, "value", -1, "attached value in gwei (default: the contract deposit)")
	_ = cmd.MarkFlagRequired("vid")
	_ = cmd.MarkFlagRequired("cid")

	return cmd
}

func runVote(opts *VoteOptions, cmd *cobra.Command) error {
	from, err := opts.sender()
	if err != nil {
		return err
	}

	f := opts.formatter(cmd)
	return withSession(cmd, opts.RootOptions, true, func(s *session) error {
		to, err := s.instance(opts.Contract)
		if err != nil {
			return err
		}

		value := contract.Amount(opts.Value)
		if !cmd.Flags().Changed("value") {
			inst, err := s.chain.Instance(to)
			if err != nil {
				return txFailure(f, err)
			}
			value = inst.Config().Deposit
		}
		f.VerboseLog("Attaching %s", formatAmount(value))

		receipt, err := s.chain.Vote(from, to, opts.RoundID, opts.Candidate, value)
		if err != nil {
			return txFailure(f, err)
		}
		result := ir.IRObject{"round_id": ir.IRInt(receipt.Result.RoundID)}
		text := fmt.Sprintf("Voted for candidate %d in round %d (%s escrowed)",
			opts.Candidate, opts.RoundID, formatAmount(value))
		return f.Success(txData(receipt, result), text)
	})
}

// EndVotingOptions holds flags for the end-voting command.
type EndVotingOptions struct {
	*RootOptions
	Contract string
	RoundID  uint64
}

// NewEndVotingCommand creates the end-voting command.
func NewEndVotingCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EndVotingOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "end-voting",
		Short: "Finalize a round after its deadline",
		Long: `Finalize round --vid once its deadline has passed.

Anyone may finalize. The pool minus the owner's commission is paid to the
candidate with the most votes; ties go to the lowest index.

Example:
  votepool end-voting --from 0xAnyone --vid 0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEndVoting(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Contract, "contract", "", "contract address (default: the only deployed instance)")
	cmd.Flags().Uint64Var(&opts.RoundID, "vid", 0, "round id")
	_ = cmd.MarkFlagRequired("vid")

	return cmd
}

func runEndVoting(opts *EndVotingOptions, cmd *cobra.Command) error {
	from, err := opts.sender()
	if err != nil {
		return err
	}

	f := opts.formatter(cmd)
	return withSession(cmd, opts.RootOptions, true, func(s *session) error {
		to, err := s.instance(opts.Contract)
		if err != nil {
			return err
		}
		receipt, err := s.chain.EndVoting(from, to, opts.RoundID)
		if err != nil {
			return txFailure(f, err)
		}

		r := receipt.Result
		result := ir.IRObject{
			"round_id":       ir.IRInt(r.RoundID),
			"winner":         ir.IRInt(r.Winner),
			"winner_address": ir.IRString(r.WinnerAddress.Hex()),
			"payout":         ir.IRInt(r.Payout),
			"commission":     ir.IRInt(r.Commission),
		}
		text := fmt.Sprintf("Round %d finished: candidate %d (%s) wins\n  payout:     %s\n  commission: %s",
			r.RoundID, r.Winner, r.WinnerAddress.Hex(), formatAmount(r.Payout), formatAmount(r.Commission))
		return f.Success(txData(receipt, result), text)
	})
}

// TransferOptions holds flags for the transfer command.
type TransferOptions struct {
	*RootOptions
	Contract string
	To       string
}

// NewTransferCommand creates the transfer command.
func NewTransferCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TransferOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Withdraw the accumulated commission (owner only)",
		Long: `Withdraw the whole accumulated commission to --to.

Only the owner may withdraw. Withdrawing a zero balance is rejected with
NULL_TRANSFER.

Example:
  votepool transfer --from 0xOwner --to 0xTreasury`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransfer(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Contract, "contract", "", "contract address (default: the only deployed instance)")
	cmd.Flags().StringVar(&opts.To, "to", "", "recipient address")

	return cmd
}

func runTransfer(opts *TransferOptions, cmd *cobra.Command) error {
	from, err := opts.sender()
	if err != nil {
		return err
	}
	recipient, err := parseAddressFlag("to", opts.To)
	if err != nil {
		return err
	}

	f := opts.formatter(cmd)
	return withSession(cmd, opts.RootOptions, true, func(s *session) error {
		to, err := s.instance(opts.Contract)
		if err != nil {
			return err
		}
		receipt, err := s.chain.Transfer(from, to, recipient)
		if err != nil {
			return txFailure(f, err)
		}
		result := ir.IRObject{"amount": ir.IRInt(receipt.Result.Payout)}
		text := fmt.Sprintf("Transferred %s to %s", formatAmount(receipt.Result.Payout), recipient.Hex())
		return f.Success(txData(receipt, result), text)
	})
}
