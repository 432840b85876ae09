package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"

	"github.com/roach88/votepool/internal/chain"
	"github.com/roach88/votepool/internal/contract"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Rejected transaction or failed scenarios
	ExitCommandError = 2 // Command error (bad flags, database unreadable, etc.)
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string      `json:"status"`          // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`  // success payload
	Error  *CLIError   `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string      `json:"code"`              // "NOT_OWNER", "INSUFFICIENT_FUNDS", etc.
	Message string      `json:"message"`           // human-readable message
	Details interface{} `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
// text is printed in text mode; data is the JSON payload.
func (f *OutputFormatter) Success(data interface{}, text string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	fmt.Fprintln(f.Writer, text)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// Reject reports a transaction the contract or the environment refused and
// returns the matching ExitError. Rejections exit with ExitFailure.
func (f *OutputFormatter) Reject(err error) error {
	code := rejectionCode(err)
	var details interface{}
	var cerr *contract.Error
	if errors.As(err, &cerr) && len(cerr.Details) > 0 {
		details = cerr.Details
	}
	if outErr := f.Error(code, err.Error(), details); outErr != nil {
		return outErr
	}
	return WrapExitError(ExitFailure, "transaction rejected", err)
}

// rejectionCode names the failure kind of a rejected transaction, or ""
// if err is not a rejection.
func rejectionCode(err error) string {
	if code := contract.CodeOf(err); code != "" {
		return string(code)
	}
	switch {
	case errors.Is(err, chain.ErrInsufficientFunds):
		return "INSUFFICIENT_FUNDS"
	case errors.Is(err, chain.ErrRecipientBlocked):
		return "RECIPIENT_BLOCKED"
	case errors.Is(err, chain.ErrUnknownInstance):
		return "UNKNOWN_INSTANCE"
	case errors.Is(err, chain.ErrTimeReversal):
		return "TIME_REVERSAL"
	case errors.Is(err, chain.ErrSenderIsContract):
		return "SENDER_IS_CONTRACT"
	case errors.Is(err, chain.ErrRecipientIsContract):
		return "RECIPIENT_IS_CONTRACT"
	case errors.Is(err, chain.ErrSelfTransfer):
		return "SELF_TRANSFER"
	case errors.Is(err, chain.ErrBalanceOverflow):
		return "BALANCE_OVERFLOW"
	case errors.Is(err, chain.ErrEscrowMismatch):
		return "ESCROW_MISMATCH"
	default:
		return ""
	}
}

// formatAmount renders gwei with thousands separators and the ether value,
// e.g. "10,000,000 gwei (0.01 ETH)".
func formatAmount(a contract.Amount) string {
	eth := float64(a) / float64(contract.GweiPerEther)
	return fmt.Sprintf("%s gwei (%s ETH)", humanize.Comma(int64(a)), humanize.FtoaWithDigits(eth, 9))
}

// formatDeadline renders t with its distance from now, e.g.
// "2024-01-04T00:00:00Z (3 days from now)".
func formatDeadline(t, now time.Time) string {
	return fmt.Sprintf("%s (%s)", t.UTC().Format(time.RFC3339), humanize.RelTime(t, now, "ago", "from now"))
}

// renderTable renders rows under header as a plain-text table.
func renderTable(w io.Writer, header []string, rows [][]string) error {
	data := pterm.TableData{header}
	data = append(data, rows...)
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return fmt.Errorf("render table: %w", err)
	}
	fmt.Fprintln(w, out)
	return nil
}
