// SS error taxonomy
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package socket

// Code is the closed set of protocol-level reply codes (ERROR HANDLING
// DESIGN). Application tasks switch on Code rather than on error strings,
// matching "application tasks call the SS API and react to codes."
type Code int

const (
	OK Code = iota
	QueueEmpty
	QueueFull
	WrongOwner
	WrongSocketType
	RemoteTcpClose
	TcpFailConnect
	NotIpv6
	DnsFailure
	NoPendingDnsQuery
	DnsQueryAlreadyInflight
	SendError
	Unknown
	BadLease
	BadMessageContents
	WentAway
	ReplyBufferTooSmall
	BadLeases
	UndefinedOperation
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case QueueEmpty:
		return "QueueEmpty"
	case QueueFull:
		return "QueueFull"
	case WrongOwner:
		return "WrongOwner"
	case WrongSocketType:
		return "WrongSocketType"
	case RemoteTcpClose:
		return "RemoteTcpClose"
	case TcpFailConnect:
		return "TcpFailConnect"
	case NotIpv6:
		return "NotIpv6"
	case DnsFailure:
		return "DnsFailure"
	case NoPendingDnsQuery:
		return "NoPendingDnsQuery"
	case DnsQueryAlreadyInflight:
		return "DnsQueryAlreadyInflight"
	case SendError:
		return "SendError"
	case Unknown:
		return "Unknown"
	case BadLease:
		return "BadLease"
	case BadMessageContents:
		return "BadMessageContents"
	case WentAway:
		return "WentAway"
	case ReplyBufferTooSmall:
		return "ReplyBufferTooSmall"
	case BadLeases:
		return "BadLeases"
	case UndefinedOperation:
		return "UndefinedOperation"
	default:
		return "unknown code"
	}
}

// Error adapts Code to the error interface so it can be returned directly
// from SS operation methods.
type Error struct {
	Code Code
}

func (e *Error) Error() string {
	return e.Code.String()
}

func fail(c Code) error {
	return &Error{Code: c}
}
