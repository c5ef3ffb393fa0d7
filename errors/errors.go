// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package errors defines the error handling used by all cipherbox core
// packages.
package errors

import (
	"bytes"
	"fmt"
	"runtime"

	"cipherbox.dev/log"
	"cipherbox.dev/vault"
)

// Error is the type that implements the error interface.
// An Error value may leave some fields unset.
type Error struct {
	// Item is the id of the folder, file, or share being acted on, if any.
	Item vault.ItemID
	// Op is the operation being performed, usually the name of the
	// method being invoked (AddFiles, CreateFolder, etc.).
	Op string
	// Kind is the class of error, or Other if its class is unknown.
	Kind Kind
	// Err is the underlying error that triggered this one, if any.
	Err error
}

var (
	_       error = (*Error)(nil)
	zeroErr Error
)

// Separator divides nested errors when printed.
var Separator = ":\n\t"

// Kind defines the class of error. It is not a substitute for the
// specific underlying error, but lets callers branch on a fixed taxonomy
// without type-asserting the concrete cause.
type Kind uint8

// The error kinds recognized throughout the core.
const (
	Other Kind = iota
	Invalid
	AuthFailure
	MalformedCiphertext
	MalformedMetadata
	NameCollision
	MaxDepthExceeded
	WouldCreateCycle
	NotFound
	VersionOutOfRange
	QuotaExceeded
	NetworkTransient
	NetworkFatal
	Unauthorized
	Cancelled
	Permission
)

func (k Kind) String() string {
	switch k {
	case Other:
		return "other error"
	case Invalid:
		return "invalid operation"
	case AuthFailure:
		return "authentication failure"
	case MalformedCiphertext:
		return "malformed ciphertext"
	case MalformedMetadata:
		return "malformed metadata"
	case NameCollision:
		return "name collision"
	case MaxDepthExceeded:
		return "maximum nesting depth exceeded"
	case WouldCreateCycle:
		return "operation would create a cycle"
	case NotFound:
		return "not found"
	case VersionOutOfRange:
		return "version out of range"
	case QuotaExceeded:
		return "quota exceeded"
	case NetworkTransient:
		return "transient network error"
	case NetworkFatal:
		return "fatal network error"
	case Unauthorized:
		return "unauthorized"
	case Cancelled:
		return "cancelled"
	case Permission:
		return "permission denied"
	}
	return "unknown error kind"
}

// Retryable reports whether the Publish Pipeline (the only component
// permitted to retry) should retry an error of this kind.
func (k Kind) Retryable() bool {
	return k == NetworkTransient
}

// E builds an error value from its arguments. The type of each argument
// determines its meaning:
//
//	vault.ItemID   the id of the item being acted on
//	string         the operation being performed
//	Kind           the class of error
//	error          the underlying error that triggered this one
//
// If more than one argument of a given type is given, only the last is
// recorded. If Kind is unset or Other, it is pulled up from the
// underlying error, matching upspin.io/errors's behavior.
func E(args ...interface{}) error {
	if len(args) == 0 {
		return nil
	}
	e := &Error{}
	for _, arg := range args {
		switch arg := arg.(type) {
		case vault.ItemID:
			e.Item = arg
		case string:
			e.Op = arg
		case Kind:
			e.Kind = arg
		case *Error:
			cp := *arg
			e.Err = &cp
		case error:
			e.Err = arg
		default:
			_, file, line, _ := runtime.Caller(1)
			log.Printf("errors.E: bad call from %s:%d: %v", file, line, args)
			return Errorf("unknown type %T, value %v in error call", arg, arg)
		}
	}
	prev, ok := e.Err.(*Error)
	if !ok {
		return e
	}
	// The previous error was also one of ours. Suppress duplication so
	// the message won't repeat the same item or kind twice.
	if prev.Item == e.Item {
		prev.Item = ""
	}
	if prev.Kind == e.Kind {
		prev.Kind = Other
	}
	if e.Kind == Other {
		e.Kind = prev.Kind
		prev.Kind = Other
	}
	return e
}

func pad(b *bytes.Buffer, str string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(str)
}

func (e *Error) Error() string {
	b := new(bytes.Buffer)
	if e.Item != "" {
		b.WriteString(string(e.Item))
	}
	if e.Op != "" {
		pad(b, ": ")
		b.WriteString(e.Op)
	}
	if e.Kind != Other {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		if prevErr, ok := e.Err.(*Error); ok {
			if *prevErr != zeroErr {
				pad(b, Separator)
				b.WriteString(e.Err.Error())
			}
		} else {
			pad(b, ": ")
			b.WriteString(e.Err.Error())
		}
	}
	if b.Len() == 0 {
		return "no error"
	}
	return b.String()
}

// Unwrap allows errors.Is/errors.As from the standard library to see
// through an *Error to its cause.
func (e *Error) Unwrap() error { return e.Err }

// KindOf walks err looking for the first *Error with a non-Other Kind and
// returns it, or Other if none is found.
func KindOf(err error) Kind {
	for err != nil {
		e, ok := err.(*Error)
		if !ok {
			break
		}
		if e.Kind != Other {
			return e.Kind
		}
		err = e.Err
	}
	return Other
}

// Is reports whether err is, or wraps, an *Error of the given Kind.
func Is(kind Kind, err error) bool {
	return KindOf(err) == kind
}

// Str returns an error that formats as the given text, for use as the
// error-typed argument to E.
func Str(text string) error {
	return &errorString{text}
}

type errorString struct{ s string }

func (e *errorString) Error() string { return e.s }

// Errorf is equivalent to fmt.Errorf but returns a value usable as the
// error-typed argument to E.
func Errorf(format string, args ...interface{}) error {
	return &errorString{fmt.Sprintf(format, args...)}
}
