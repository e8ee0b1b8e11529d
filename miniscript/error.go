// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"fmt"
	"strings"
)

// AssertError identifies an error that indicates an internal code consistency
// issue and should be treated as a critical and unrecoverable error.
type AssertError string

// Error returns the assertion error as a human-readable string and satisfies
// the error interface.
func (e AssertError) Error() string {
	return "assertion failed: " + string(e)
}

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrTypeMismatch indicates a combinator was given children whose
	// correctness types it does not accept.
	ErrTypeMismatch ErrorCode = iota

	// ErrInvalidThreshold indicates a threshold or multisig count outside
	// of [1, n].
	ErrInvalidThreshold

	// ErrTooManyKeys indicates a multisig with more keys than
	// OP_CHECKMULTISIG allows.
	ErrTooManyKeys

	// ErrMalformedPush indicates a data push that is neither a minimal
	// non-negative number, a 32 byte hash nor a 33 byte key.
	ErrMalformedPush

	// ErrUnsupportedOpcode indicates an opcode outside of the fragment
	// vocabulary.
	ErrUnsupportedOpcode

	// ErrInvalidPubKey indicates a 33 byte push that is not a valid
	// compressed public key.
	ErrInvalidPubKey

	// ErrUnexpectedEnd indicates the script ended while a fragment was
	// still being read.
	ErrUnexpectedEnd

	// ErrUnexpectedToken indicates a token that does not fit the fragment
	// being read.
	ErrUnexpectedToken

	// ErrTrailingTokens indicates tokens left over after the top level
	// fragment was read.
	ErrTrailingTokens

	// ErrNotTopLevel indicates a program that is not of type T and thus
	// cannot be used as a complete script.
	ErrNotTopLevel

	// ErrScriptTooLarge indicates a script above the standard P2WSH
	// witness script size.
	ErrScriptTooLarge

	// ErrInvalidLockTime indicates a relative lock time that has no policy
	// equivalent.
	ErrInvalidLockTime

	// numErrorCodes is the maximum error code number used in tests.
	numErrorCodes
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrTypeMismatch:      "ErrTypeMismatch",
	ErrInvalidThreshold:  "ErrInvalidThreshold",
	ErrTooManyKeys:       "ErrTooManyKeys",
	ErrMalformedPush:     "ErrMalformedPush",
	ErrUnsupportedOpcode: "ErrUnsupportedOpcode",
	ErrInvalidPubKey:     "ErrInvalidPubKey",
	ErrUnexpectedEnd:     "ErrUnexpectedEnd",
	ErrUnexpectedToken:   "ErrUnexpectedToken",
	ErrTrailingTokens:    "ErrTrailingTokens",
	ErrNotTopLevel:       "ErrNotTopLevel",
	ErrScriptTooLarge:    "ErrScriptTooLarge",
	ErrInvalidLockTime:   "ErrInvalidLockTime",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error identifies a failure to build, parse or convert a program. The caller
// can use type assertions to access the ErrorCode field.
type Error struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// scriptError creates an Error given a set of arguments.
func scriptError(c ErrorCode, desc string) Error {
	return Error{ErrorCode: c, Description: desc}
}

// IsErrorCode returns whether err is an Error with a matching error code.
func IsErrorCode(err error, c ErrorCode) bool {
	serr, ok := err.(Error)
	return ok && serr.ErrorCode == c
}

// SatisfyErrorCode identifies the reason a witness could not be produced.
type SatisfyErrorCode int

const (
	// ErrNoSignatureProvider indicates a signature was needed but the
	// satisfier has no Sign function.
	ErrNoSignatureProvider SatisfyErrorCode = iota

	// ErrCanNotProvideSignature indicates the signer declined a key.
	ErrCanNotProvideSignature

	// ErrCanNotProvideEnoughSignatureForMulti indicates fewer than k keys
	// of a multisig could be signed for.
	ErrCanNotProvideEnoughSignatureForMulti

	// ErrNoPreimageProvider indicates a preimage was needed but the
	// satisfier has no Preimage function.
	ErrNoPreimageProvider

	// ErrCanNotProvidePreimage indicates no valid preimage is known for a
	// hash.
	ErrCanNotProvidePreimage

	// ErrNoAgeProvided indicates a relative time lock with no input age
	// to compare against.
	ErrNoAgeProvided

	// ErrLockTimeNotMet indicates the input age is below the required
	// relative lock time.
	ErrLockTimeNotMet

	// ErrRelativeLockDisabled indicates the input sequence has the BIP68
	// disable flag set.
	ErrRelativeLockDisabled

	// ErrRelativeLockNotBlockBased indicates the input sequence or the
	// required lock time is expressed in 512 second units rather than
	// blocks.
	ErrRelativeLockNotBlockBased

	// ErrThresholdNotMet indicates fewer than k legs of a threshold could
	// be satisfied.
	ErrThresholdNotMet

	// ErrOrExpressionBothNotMet indicates neither branch of a disjunction
	// could be satisfied.
	ErrOrExpressionBothNotMet

	// ErrNotDissatisfiable indicates a dissatisfaction was requested for
	// a fragment whose type has none.
	ErrNotDissatisfiable
)

var satisfyErrorCodeStrings = map[SatisfyErrorCode]string{
	ErrNoSignatureProvider:                  "ErrNoSignatureProvider",
	ErrCanNotProvideSignature:               "ErrCanNotProvideSignature",
	ErrCanNotProvideEnoughSignatureForMulti: "ErrCanNotProvideEnoughSignatureForMulti",
	ErrNoPreimageProvider:                   "ErrNoPreimageProvider",
	ErrCanNotProvidePreimage:                "ErrCanNotProvidePreimage",
	ErrNoAgeProvided:                        "ErrNoAgeProvided",
	ErrLockTimeNotMet:                       "ErrLockTimeNotMet",
	ErrRelativeLockDisabled:                 "ErrRelativeLockDisabled",
	ErrRelativeLockNotBlockBased:            "ErrRelativeLockNotBlockBased",
	ErrThresholdNotMet:                      "ErrThresholdNotMet",
	ErrOrExpressionBothNotMet:               "ErrOrExpressionBothNotMet",
	ErrNotDissatisfiable:                    "ErrNotDissatisfiable",
}

// String returns the SatisfyErrorCode as a human-readable name.
func (e SatisfyErrorCode) String() string {
	if s := satisfyErrorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown SatisfyErrorCode (%d)", int(e))
}

// SatisfyError describes why a fragment could not be satisfied. Children
// carries the failures of the sub-fragments that were tried, for the or and
// threshold combinators.
type SatisfyError struct {
	Code        SatisfyErrorCode
	Node        *AstElem
	Children    []*SatisfyError
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e *SatisfyError) Error() string {
	var b strings.Builder
	b.WriteString(e.Code.String())
	if e.Description != "" {
		b.WriteString(": ")
		b.WriteString(e.Description)
	}
	if e.Node != nil {
		b.WriteString(" at ")
		b.WriteString(e.Node.String())
	}
	if len(e.Children) > 0 {
		b.WriteString(" (")
		for i, child := range e.Children {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(child.Error())
		}
		b.WriteString(")")
	}
	return b.String()
}

func satisfyError(c SatisfyErrorCode, node *AstElem, desc string,
	children ...*SatisfyError) *SatisfyError {

	return &SatisfyError{
		Code:        c,
		Node:        node,
		Children:    children,
		Description: desc,
	}
}
