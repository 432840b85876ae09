package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/votepool/internal/chain"
	"github.com/roach88/votepool/internal/contract"
	"github.com/roach88/votepool/internal/store"
)

// session is one command's view of the ledger: the store it was loaded from
// and the chain rebuilt from the saved snapshot.
type session struct {
	store  *store.Store
	chain  *chain.Chain
	logger *zap.Logger
}

// openSession opens the ledger at opts.DB and restores the chain from it.
// A fresh database yields an empty chain.
func openSession(ctx context.Context, opts *RootOptions) (*session, error) {
	logger := opts.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.clock == nil {
		opts.clock = chain.SystemClock{}
	}

	st, err := store.Open(opts.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open ledger", err)
	}

	snap, err := st.LoadSnapshot(ctx)
	if errors.Is(err, store.ErrNoState) {
		logger.Debug("starting empty ledger", zap.String("db", opts.DB))
		return &session{store: st, chain: chain.New(opts.clock, chain.WithLogger(logger)), logger: logger}, nil
	}
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load ledger", err)
	}

	c, err := chain.Restore(snap, opts.clock, chain.WithLogger(logger))
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to restore ledger", err)
	}
	logger.Debug("ledger loaded",
		zap.String("db", opts.DB),
		zap.Int64("seq", snap.Seq),
		zap.Int("instances", len(snap.Instances)))
	return &session{store: st, chain: c, logger: logger}, nil
}

// save persists the chain state.
func (s *session) save(ctx context.Context) error {
	if err := s.store.SaveSnapshot(ctx, s.chain.Snapshot()); err != nil {
		return WrapExitError(ExitCommandError, "failed to save ledger", err)
	}
	return nil
}

func (s *session) close() {
	if err := s.store.Close(); err != nil {
		s.logger.Warn("close ledger", zap.Error(err))
	}
}

// instance resolves the --contract flag. When it is empty and exactly one
// instance is deployed, that instance is used.
func (s *session) instance(flag string) (contract.Address, error) {
	if flag != "" {
		return parseAddressFlag("contract", flag)
	}
	deployed := s.chain.Instances()
	switch len(deployed) {
	case 0:
		return contract.Address{}, NewExitError(ExitCommandError, "no contract deployed; run deploy first")
	case 1:
		return deployed[0], nil
	default:
		return contract.Address{}, NewExitError(ExitCommandError,
			fmt.Sprintf("--contract is required: %d instances deployed", len(deployed)))
	}
}

// withSession runs fn against an open session. The ledger is saved only when
// fn succeeds and commit is true.
func withSession(cmd *cobra.Command, opts *RootOptions, commit bool, fn func(s *session) error) error {
	ctx := commandContext(cmd)
	s, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer s.close()

	if err := fn(s); err != nil {
		return err
	}
	if !commit {
		return nil
	}
	return s.save(ctx)
}
