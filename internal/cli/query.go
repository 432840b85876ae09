package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/votepool/internal/contract"
)

// QueryOptions holds flags shared by the read-only contract queries.
type QueryOptions struct {
	*RootOptions
	Contract  string
	RoundID   uint64
	Candidate int
}

func (o *QueryOptions) bindContract(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Contract, "contract", "", "contract address (default: the only deployed instance)")
}

func (o *QueryOptions) bindRound(cmd *cobra.Command) {
	cmd.Flags().Uint64Var(&o.RoundID, "vid", 0, "round id")
	_ = cmd.MarkFlagRequired("vid")
}

// NewCommissionCommand creates the commission command.
func NewCommissionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:     "commission",
		Aliases: []string{"comission"},
		Short:   "Show the commission owed to the owner",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			return withSession(cmd, opts.RootOptions, false, func(s *session) error {
				addr, err := s.instance(opts.Contract)
				if err != nil {
					return err
				}
				amount, err := s.chain.CommissionInfo(addr)
				if err != nil {
					return txFailure(f, err)
				}
				data := map[string]interface{}{"contract": addr.Hex(), "commission": int64(amount)}
				return f.Success(data, "Commission: "+formatAmount(amount))
			})
		},
	}
	opts.bindContract(cmd)

	return cmd
}

// NewCandidateInfoCommand creates the cinfo command.
func NewCandidateInfoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cinfo",
		Short: "Show the vote count of a candidate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			return withSession(cmd, opts.RootOptions, false, func(s *session) error {
				addr, err := s.instance(opts.Contract)
				if err != nil {
					return err
				}
				votes, err := s.chain.CandidateInfo(addr, opts.RoundID, opts.Candidate)
				if err != nil {
					return txFailure(f, err)
				}
				data := map[string]interface{}{
					"round_id":  opts.RoundID,
					"candidate": opts.Candidate,
					"votes":     votes,
				}
				return f.Success(data, fmt.Sprintf("Round %d, candidate %d: %d votes", opts.RoundID, opts.Candidate, votes))
			})
		},
	}
	opts.bindContract(cmd)
	opts.bindRound(cmd)
	cmd.Flags().IntVar(&opts.Candidate, "cid", 0, "candidate index")
	_ = cmd.MarkFlagRequired("cid")

	return cmd
}

// NewEndInfoCommand creates the end-info command.
func NewEndInfoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "end-info",
		Short: "Show the deadline of a round",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			return withSession(cmd, opts.RootOptions, false, func(s *session) error {
				addr, err := s.instance(opts.Contract)
				if err != nil {
					return err
				}
				deadline, err := s.chain.EndInfo(addr, opts.RoundID)
				if err != nil {
					return txFailure(f, err)
				}
				data := map[string]interface{}{
					"round_id": opts.RoundID,
					"deadline": deadline.UTC().Format(time.RFC3339),
					"unix":     deadline.Unix(),
				}
				return f.Success(data, fmt.Sprintf("Round %d ends %s", opts.RoundID, formatDeadline(deadline, s.chain.Now())))
			})
		},
	}
	opts.bindContract(cmd)
	opts.bindRound(cmd)

	return cmd
}

// RoundData is the JSON form of one round.
type RoundData struct {
	ID         uint64   `json:"id"`
	Candidates []string `json:"candidates"`
	Votes      []uint64 `json:"votes"`
	Voters     int      `json:"voters"`
	Pool       int64    `json:"pool"`
	Deadline   string   `json:"deadline"`
	Ended      bool     `json:"ended"`
	Winner     *int     `json:"winner,omitempty"`
	Payout     int64    `json:"payout,omitempty"`
	Commission int64    `json:"commission,omitempty"`
}

func roundData(v contract.RoundView) RoundData {
	d := RoundData{
		ID:         v.ID,
		Candidates: make([]string, len(v.Candidates)),
		Votes:      v.VoteCounts,
		Voters:     v.Voters,
		Pool:       int64(v.Pool),
		Deadline:   v.Deadline.UTC().Format(time.RFC3339),
		Ended:      v.Ended,
	}
	for i, c := range v.Candidates {
		d.Candidates[i] = c.Hex()
	}
	if v.Ended {
		winner := v.Winner
		d.Winner = &winner
		d.Payout = int64(v.Payout)
		d.Commission = int64(v.Commission)
	}
	return d
}

// NewRoundsCommand creates the rounds command.
func NewRoundsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rounds",
		Short: "List the rounds of a contract",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			return withSession(cmd, opts.RootOptions, false, func(s *session) error {
				addr, err := s.instance(opts.Contract)
				if err != nil {
					return err
				}
				inst, err := s.chain.Instance(addr)
				if err != nil {
					return txFailure(f, err)
				}
				views := inst.Rounds()

				if opts.Format == "json" {
					data := make([]RoundData, len(views))
					for i, v := range views {
						data[i] = roundData(v)
					}
					return f.Success(data, "")
				}
				if len(views) == 0 {
					return f.Success(nil, "No rounds.")
				}

				now := s.chain.Now()
				rows := make([][]string, len(views))
				for i, v := range views {
					rows[i] = []string{
						strconv.FormatUint(v.ID, 10),
						strconv.Itoa(len(v.Candidates)),
						joinCounts(v.VoteCounts),
						formatAmount(v.Pool),
						formatDeadline(v.Deadline, now),
						roundStatus(v, now),
					}
				}
				return renderTable(f.Writer, []string{"ID", "CANDIDATES", "VOTES", "POOL", "DEADLINE", "STATUS"}, rows)
			})
		},
	}
	opts.bindContract(cmd)

	return cmd
}

func joinCounts(counts []uint64) string {
	parts := make([]string, len(counts))
	for i, c := range counts {
		parts[i] = strconv.FormatUint(c, 10)
	}
	return strings.Join(parts, "/")
}

// roundStatus is "open", "closed" (deadline passed, not finalized) or the
// winner of a finalized round.
func roundStatus(v contract.RoundView, now time.Time) string {
	switch {
	case v.Ended:
		return fmt.Sprintf("won by #%d", v.Winner)
	case !now.Before(v.Deadline):
		return "closed"
	default:
		return "open"
	}
}
