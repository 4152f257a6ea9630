// Package gwerrors defines the error taxonomy shared by the validator,
// challenge, cells, codec, lockalgo, gwstate, psc and rollupnode
// packages. Each sentinel carries a fixed
// numeric code, mirroring JSON-RPC-style error code constants, so that
// a caught error can be inspected and re-encoded at an L1 verifier
// boundary without string matching.
package gwerrors

import "errors"

// Code is the fixed numeric identifier of a rollup error kind.
type Code int

const (
	CodeEncoding Code = 1000 + iota
	CodeMerkleProof
	CodeInvalidBlock
	CodeInvalidPostGlobalState
	CodeInvalidWithdrawal
	CodeInvalidCustodianCell
	CodeInvalidDepositCell
	CodeInvalidStakeCell
	CodeInvalidChallengeCell
	CodeAmountOverflow
	CodeSUDT
	CodeMissingKey
	CodeLockAlgorithmInvalidSignature
	CodeLockAlgorithmInvalidLockArgs
)

// Error is a sentinel rollup error with a numeric code and message.
type Error struct {
	code Code
	msg  string
}

func (e *Error) Error() string { return e.msg }

// Code returns the fixed numeric code for this error.
func (e *Error) Code() Code { return e.code }

func newErr(c Code, msg string) *Error { return &Error{code: c, msg: msg} }

// Sentinel errors, one per error taxonomy entry. Use errors.Is to
// test for a kind; wrap with fmt.Errorf("%w: ...", ErrInvalidBlock) to
// add context while preserving the sentinel for errors.Is/As.
var (
	ErrEncoding                 = newErr(CodeEncoding, "malformed typed bytes")
	ErrMerkleProof              = newErr(CodeMerkleProof, "SMT/CBMT proof mismatch")
	ErrInvalidBlock             = newErr(CodeInvalidBlock, "invalid block linkage")
	ErrInvalidPostGlobalState   = newErr(CodeInvalidPostGlobalState, "reconstructed post global state mismatch")
	ErrInvalidWithdrawal        = newErr(CodeInvalidWithdrawal, "withdrawal cell/request mismatch")
	ErrInvalidCustodianCell     = newErr(CodeInvalidCustodianCell, "custodian conservation violation")
	ErrInvalidDepositCell       = newErr(CodeInvalidDepositCell, "deposit conservation violation")
	ErrInvalidStakeCell         = newErr(CodeInvalidStakeCell, "invalid stake cell")
	ErrInvalidChallengeCell     = newErr(CodeInvalidChallengeCell, "invalid challenge cell presence")
	ErrAmountOverflow           = newErr(CodeAmountOverflow, "u128 amount overflow")
	ErrSUDT                     = newErr(CodeSUDT, "invalid CKB-SUDT usage")
	ErrMissingKey               = newErr(CodeMissingKey, "required state key missing")
	ErrLockAlgoInvalidSignature = newErr(CodeLockAlgorithmInvalidSignature, "signature rejected")
	ErrLockAlgoInvalidLockArgs  = newErr(CodeLockAlgorithmInvalidLockArgs, "invalid lock args")
)

// Off-chain errors that IsTransient classifies as retryable by the PSC
// pipeline rather than fatal.
var (
	ErrTransactionFailedToResolve = errors.New("transaction failed to resolve (dead input)")
	ErrMedianTimeNotReached       = errors.New("l1 tip median time not reached")
	ErrRPC                        = errors.New("l1 rpc error")
)

// IsTransient reports whether err should be retried with bounded backoff
// rather than treated as fatal, versus a permanent/fatal error.
func IsTransient(err error) bool {
	switch {
	case errors.Is(err, ErrTransactionFailedToResolve):
		return true
	case errors.Is(err, ErrMedianTimeNotReached):
		return true
	case errors.Is(err, ErrRPC):
		return true
	default:
		return false
	}
}
