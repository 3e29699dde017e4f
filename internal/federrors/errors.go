// Package federrors defines the closed error taxonomy used across the
// federation overlay (spec §7) and the helpers for wrapping internal causes.
package federrors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Code is the wire-visible fault code. The set is closed: new protocol
// faults must be added here, not invented ad hoc at call sites.
type Code int

const (
	// Addressed-to mismatch.
	P2PNodeDoesNotMatchFault Code = iota + 1
	RoutingNodeDoesNotMatchFault

	// Voter-store.
	NotPrimary
	NotReady
	StoreWriteConflict
	UpdatePending
	NoWriteQuorum
	StaleRequest
	AlreadyExists

	// Lifecycle.
	OperationCanceled
	Timeout
	ObjectClosed
	InvalidConfiguration

	// Transport.
	EndpointNotFound
	ServiceCommunicationCannotConnect

	// Configuration.
	AddressAlreadyInUse
	InvalidAddress
	InvalidArgument
	MessageTooLarge
	ServiceTooBusy

	// Control-plane.
	EndpointNotFoundControl
	InvalidMessage
)

var names = map[Code]string{
	P2PNodeDoesNotMatchFault:           "P2PNodeDoesNotMatchFault",
	RoutingNodeDoesNotMatchFault:       "RoutingNodeDoesNotMatchFault",
	NotPrimary:                         "NotPrimary",
	NotReady:                           "NotReady",
	StoreWriteConflict:                 "StoreWriteConflict",
	UpdatePending:                      "UpdatePending",
	NoWriteQuorum:                      "NoWriteQuorum",
	StaleRequest:                       "StaleRequest",
	AlreadyExists:                      "AlreadyExists",
	OperationCanceled:                  "OperationCanceled",
	Timeout:                            "Timeout",
	ObjectClosed:                       "ObjectClosed",
	InvalidConfiguration:               "InvalidConfiguration",
	EndpointNotFound:                   "EndpointNotFound",
	ServiceCommunicationCannotConnect:  "ServiceCommunicationCannotConnect",
	AddressAlreadyInUse:                "AddressAlreadyInUse",
	InvalidAddress:                     "InvalidAddress",
	InvalidArgument:                    "InvalidArgument",
	MessageTooLarge:                    "MessageTooLarge",
	ServiceTooBusy:                     "ServiceTooBusy",
	EndpointNotFoundControl:            "EndpointNotFound",
	InvalidMessage:                     "InvalidMessage",
}

func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Fault is a fault traveling in-band as a FederationMessage::RejectFault,
// per spec §7. It is returned to callers and also carried on the wire in a
// FaultHeader{error_code, has_body}.
type Fault struct {
	code    Code
	hasBody bool
	cause   error
}

// New creates a bare fault with no wrapped cause.
func New(code Code) *Fault {
	return &Fault{code: code}
}

// Wrap annotates an internal cause with a wire-visible fault code.
func Wrap(code Code, cause error) *Fault {
	return &Fault{code: code, cause: errors.Wrapf(cause, "federation: %s", code)}
}

// WithBody marks the fault as carrying a reply body (FaultHeader.has_body).
func (f *Fault) WithBody() *Fault {
	f.hasBody = true
	return f
}

func (f *Fault) Code() Code   { return f.code }
func (f *Fault) HasBody() bool { return f.hasBody }

func (f *Fault) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s: %v", f.code, f.cause)
	}
	return f.code.String()
}

func (f *Fault) Unwrap() error { return f.cause }

// Is reports whether err is a Fault carrying the given code, which lets
// callers use errors.Is(err, federrors.New(federrors.NotPrimary)).
func (f *Fault) Is(target error) bool {
	other, ok := target.(*Fault)
	if !ok {
		return false
	}
	return other.code == f.code
}

// CodeOf extracts the fault code from err, if any.
func CodeOf(err error) (Code, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f.code, true
	}
	return 0, false
}

// Retryable reports whether the category of failure (§7.1) is one that the
// caller's async operation may retry within its overall timeout.
func Retryable(err error) bool {
	code, ok := CodeOf(err)
	if !ok {
		return false
	}
	switch code {
	case Timeout, P2PNodeDoesNotMatchFault, RoutingNodeDoesNotMatchFault:
		return true
	default:
		return false
	}
}
