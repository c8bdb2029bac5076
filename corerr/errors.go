// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package corerr defines the sum-typed error taxonomy shared by every
// layer of the client access path, from the section tree up through
// the session's quorum RPC engine.
package corerr

import (
	"fmt"
)

// Kind identifies one of the error variants a caller may need to
// branch on. Never compare Error values directly; compare Kind.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetworkContact
	KindNoNetworkKnowledge
	KindInsufficientElderKnowledge
	KindInsufficientAcksReceived
	KindCmdError
	KindNoResponse
	KindUnexpectedQueryResponse
	KindUntrustedProofChain
	KindSAPKeyNotCoveredByProofChain
	KindMultipleBranchError
	KindAntiEntropyNoSapElders
	KindOrphanBranch
	KindBadSignature
	KindAcyclicViolation
	KindIncompatibleRoots
	KindNoChain
	KindEntryTooBig
	KindTooManyEntries
	KindAccessDenied
	KindNoSuchEntry
	KindNoSuchUser
	KindTooSmallForSelfEncryption
	KindSmallFilePaddingNeeded
	KindUploadSizeLimitExceeded
	KindNotEnoughChunksRetrieved
	KindChunkUploadValidationTimeout
)

func (k Kind) String() string {
	switch k {
	case KindNetworkContact:
		return "NetworkContact"
	case KindNoNetworkKnowledge:
		return "NoNetworkKnowledge"
	case KindInsufficientElderKnowledge:
		return "InsufficientElderKnowledge"
	case KindInsufficientAcksReceived:
		return "InsufficientAcksReceived"
	case KindCmdError:
		return "CmdError"
	case KindNoResponse:
		return "NoResponse"
	case KindUnexpectedQueryResponse:
		return "UnexpectedQueryResponse"
	case KindUntrustedProofChain:
		return "UntrustedProofChain"
	case KindSAPKeyNotCoveredByProofChain:
		return "SAPKeyNotCoveredByProofChain"
	case KindMultipleBranchError:
		return "MultipleBranchError"
	case KindAntiEntropyNoSapElders:
		return "AntiEntropyNoSapElders"
	case KindOrphanBranch:
		return "OrphanBranch"
	case KindBadSignature:
		return "BadSignature"
	case KindAcyclicViolation:
		return "AcyclicViolation"
	case KindIncompatibleRoots:
		return "IncompatibleRoots"
	case KindNoChain:
		return "NoChain"
	case KindEntryTooBig:
		return "EntryTooBig"
	case KindTooManyEntries:
		return "TooManyEntries"
	case KindAccessDenied:
		return "AccessDenied"
	case KindNoSuchEntry:
		return "NoSuchEntry"
	case KindNoSuchUser:
		return "NoSuchUser"
	case KindTooSmallForSelfEncryption:
		return "TooSmallForSelfEncryption"
	case KindSmallFilePaddingNeeded:
		return "SmallFilePaddingNeeded"
	case KindUploadSizeLimitExceeded:
		return "UploadSizeLimitExceeded"
	case KindNotEnoughChunksRetrieved:
		return "NotEnoughChunksRetrieved"
	case KindChunkUploadValidationTimeout:
		return "ChunkUploadValidationTimeout"
	default:
		return "Unknown"
	}
}

// Error is the single error type returned across package boundaries.
// Fields beyond Kind are contextual and may be zero.
type Error struct {
	Kind     Kind
	MsgID    string
	Peers    []string
	Prefix   string
	Expected int
	Received int
	Wrapped  error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Prefix != "" {
		s += fmt.Sprintf(" prefix=%s", e.Prefix)
	}
	if e.MsgID != "" {
		s += fmt.Sprintf(" msg_id=%s", e.MsgID)
	}
	if e.Expected != 0 || e.Received != 0 {
		s += fmt.Sprintf(" expected=%d received=%d", e.Expected, e.Received)
	}
	if len(e.Peers) > 0 {
		s += fmt.Sprintf(" peers=%v", e.Peers)
	}
	if e.Wrapped != nil {
		s += ": " + e.Wrapped.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is reports whether err is a *Error of kind k.
func Is(err error, k Kind) bool {
	ce, ok := err.(*Error)
	return ok && ce.Kind == k
}

// New builds a bare Error of the given kind.
func New(k Kind) *Error { return &Error{Kind: k} }

// Wrap builds an Error of the given kind wrapping a lower-level cause.
func Wrap(k Kind, cause error) *Error { return &Error{Kind: k, Wrapped: cause} }

// WithMsgID returns a copy of e annotated with a message id.
func (e *Error) WithMsgID(id string) *Error {
	c := *e
	c.MsgID = id
	return &c
}

// WithPeers returns a copy of e annotated with the peers involved.
func (e *Error) WithPeers(peers []string) *Error {
	c := *e
	c.Peers = append([]string(nil), peers...)
	return &c
}

// WithPrefix returns a copy of e annotated with an offending prefix.
func (e *Error) WithPrefix(prefix string) *Error {
	c := *e
	c.Prefix = prefix
	return &c
}

// WithCounts returns a copy of e annotated with expected/received counts.
func (e *Error) WithCounts(expected, received int) *Error {
	c := *e
	c.Expected = expected
	c.Received = received
	return &c
}
