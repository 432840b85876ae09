package contract

import (
	"errors"
	"fmt"
)

// Error is a rejected operation. The contract state is unchanged when an
// operation returns an Error.
type Error struct {
	// Code identifies the rejection kind.
	Code ErrorCode

	// Message is the human-readable revert reason.
	Message string

	// RoundID identifies the affected round, if any.
	RoundID *uint64

	// Details contains additional context.
	Details map[string]string

	cause error
}

// ErrorCode categorizes rejections.
type ErrorCode string

const (
	// ErrCodeNotOwner: privileged operation attempted by a non-owner.
	ErrCodeNotOwner ErrorCode = "NOT_OWNER"

	// ErrCodeInvalidCandidateList: empty candidate list at creation.
	ErrCodeInvalidCandidateList ErrorCode = "INVALID_CANDIDATE_LIST"

	// ErrCodeTooEarly: finalization attempted before the deadline.
	ErrCodeTooEarly ErrorCode = "TOO_EARLY"

	// ErrCodeEmptyRound: finalization attempted with zero votes.
	ErrCodeEmptyRound ErrorCode = "EMPTY_ROUND"

	// ErrCodeAlreadyEnded: finalization attempted on an ended round.
	ErrCodeAlreadyEnded ErrorCode = "ALREADY_ENDED"

	// ErrCodeVotingClosed: vote after the deadline or after the round ended.
	ErrCodeVotingClosed ErrorCode = "VOTING_CLOSED"

	// ErrCodeWrongDeposit: attached value differs from the deposit.
	ErrCodeWrongDeposit ErrorCode = "WRONG_DEPOSIT"

	// ErrCodeAlreadyVoted: caller already voted in this round.
	ErrCodeAlreadyVoted ErrorCode = "ALREADY_VOTED"

	// ErrCodeNullTransfer: commission withdrawal with zero balance.
	ErrCodeNullTransfer ErrorCode = "NULL_TRANSFER"

	// ErrCodeNotFound: unknown round or candidate index.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeTransferFailed: the payout could not be delivered.
	ErrCodeTransferFailed ErrorCode = "TRANSFER_FAILED"
)

// Sentinels for errors.Is. Two Errors match when their codes match.
var (
	ErrNotOwner             = &Error{Code: ErrCodeNotOwner}
	ErrInvalidCandidateList = &Error{Code: ErrCodeInvalidCandidateList}
	ErrTooEarly             = &Error{Code: ErrCodeTooEarly}
	ErrEmptyRound           = &Error{Code: ErrCodeEmptyRound}
	ErrAlreadyEnded         = &Error{Code: ErrCodeAlreadyEnded}
	ErrVotingClosed         = &Error{Code: ErrCodeVotingClosed}
	ErrWrongDeposit         = &Error{Code: ErrCodeWrongDeposit}
	ErrAlreadyVoted         = &Error{Code: ErrCodeAlreadyVoted}
	ErrNullTransfer         = &Error{Code: ErrCodeNullTransfer}
	ErrNotFound             = &Error{Code: ErrCodeNotFound}
	ErrTransferFailed       = &Error{Code: ErrCodeTransferFailed}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.RoundID != nil {
		return fmt.Sprintf("%s: %s (round=%d)", e.Code, msg, *e.RoundID)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Unwrap returns the environment error behind a TRANSFER_FAILED rejection.
func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf returns the rejection code carried by err, or "" if err is not a
// contract rejection. Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRejection returns true if err is a contract rejection of any kind.
func IsRejection(err error) bool {
	return CodeOf(err) != ""
}

func newError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func newRoundError(code ErrorCode, roundID uint64, message string) *Error {
	id := roundID
	return &Error{Code: code, Message: message, RoundID: &id}
}

func notOwnerError() *Error {
	return newError(ErrCodeNotOwner, "You are not an owner")
}

func roundNotFoundError(roundID uint64) *Error {
	return newRoundError(ErrCodeNotFound, roundID, "voting does not exist")
}

func candidateNotFoundError(roundID uint64, index, count int) *Error {
	e := newRoundError(ErrCodeNotFound, roundID, "candidate does not exist")
	e.Details = map[string]string{
		"candidate":  fmt.Sprintf("%d", index),
		"candidates": fmt.Sprintf("%d", count),
	}
	return e
}

func wrongDepositError(roundID uint64, want, got Amount) *Error {
	e := newRoundError(ErrCodeWrongDeposit, roundID, fmt.Sprintf("Transfer %s to vote", formatEther(want)))
	e.Details = map[string]string{
		"expected": fmt.Sprintf("%d", want),
		"attached": fmt.Sprintf("%d", got),
	}
	return e
}

func transferFailedError(to Address, amount Amount, cause error) *Error {
	return &Error{
		Code:    ErrCodeTransferFailed,
		Message: fmt.Sprintf("transfer of %s to %s failed: %v", amount, to.Hex(), cause),
		Details: map[string]string{
			"to":     to.Hex(),
			"amount": fmt.Sprintf("%d", amount),
		},
		cause: cause,
	}
}

// formatEther renders a gwei amount in ether, e.g. "0.01 ETH".
func formatEther(a Amount) string {
	whole := a / GweiPerEther
	frac := a % GweiPerEther
	if frac == 0 {
		return fmt.Sprintf("%d ETH", whole)
	}
	s := fmt.Sprintf("%09d", frac)
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	return fmt.Sprintf("%d.%s ETH", whole, s)
}
