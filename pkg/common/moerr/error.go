// Copyright 2021 - 2022 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package moerr is the engine-wide error package. Every error that can
// reach a caller outside the storage layer is constructed here, so that
// logs and client responses carry a stable numeric code instead of a bare
// Go error string.
package moerr

import (
	"context"
	"fmt"
)

const (
	// 0 - 99 is OK. They do not contain info and are special handled.
	Ok uint16 = 0

	// Group 1: internal errors
	ErrInternal         uint16 = 20101
	ErrNYI              uint16 = 20102
	ErrOOM              uint16 = 20103
	ErrQueryInterrupted uint16 = 20104
	ErrNotSupported     uint16 = 20105
	ErrMemoryLimit      uint16 = 20106

	// Group 3: invalid input
	ErrBadConfig    uint16 = 20300
	ErrInvalidInput uint16 = 20301
	ErrInvalidArg   uint16 = 20302

	// Group 4: unexpected state
	ErrInvalidState uint16 = 20400

	// Group 5: RPC / connection errors, raised by the client-facing side
	// of the engine rather than the storage layer itself.
	ErrServiceUnavailable   uint16 = 20500
	ErrConnectionReset      uint16 = 20501
	ErrBackendClosed        uint16 = 20502
	ErrNoAvailableBackend   uint16 = 20503
	ErrBackendCannotConnect uint16 = 20504
	ErrClientClosed         uint16 = 20505

	ErrEnd uint16 = 65535
)

type errorMsgItem struct {
	errorMsgOrFormat string
}

var errorMsgRefer = map[uint16]errorMsgItem{
	ErrInternal:         {"internal error: %s"},
	ErrNYI:              {"%s is not yet implemented"},
	ErrOOM:              {"out of memory"},
	ErrQueryInterrupted: {"query interrupted"},
	ErrNotSupported:     {"not supported: %s"},
	ErrMemoryLimit:      {"failed to change memory limit to %d: could not free up enough memory for the new limit%s"},
	ErrBadConfig:        {"invalid configuration: %s"},
	ErrInvalidInput:     {"invalid input: %s"},
	ErrInvalidArg:       {"invalid argument %s, bad value %v"},
	ErrInvalidState:     {"invalid state: %s"},
	ErrServiceUnavailable:   {"service unavailable: %s"},
	ErrConnectionReset:      {"connection reset"},
	ErrBackendClosed:        {"backend closed"},
	ErrNoAvailableBackend:   {"no available backend"},
	ErrBackendCannotConnect: {"backend cannot connect"},
	ErrClientClosed:         {"client closed"},
}

// Error is the concrete error type produced by every constructor in this
// package. It always carries a stable code, so callers can compare with
// IsMoErrCode instead of matching on the message text.
type Error struct {
	code    uint16
	message string
	cause   error
}

func newError(ctx context.Context, code uint16, args ...any) *Error {
	_ = ctx // reserved for trace/span propagation by callers that have one
	item, has := errorMsgRefer[code]
	if !has {
		return &Error{code: ErrInternal, message: fmt.Sprintf("undefined error code %d", code)}
	}
	return &Error{code: code, message: fmt.Sprintf(item.errorMsgOrFormat, args...)}
}

func (e *Error) Error() string {
	return e.message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) ErrorCode() uint16 {
	return e.code
}

// IsMoErrCode reports whether err is a *Error carrying the given code.
func IsMoErrCode(err error, code uint16) bool {
	me, ok := err.(*Error)
	if !ok {
		return false
	}
	return me.code == code
}

func NewInternalError(ctx context.Context, msg string, args ...any) *Error {
	return newError(ctx, ErrInternal, fmt.Sprintf(msg, args...))
}

func NewNYI(ctx context.Context, msg string, args ...any) *Error {
	return newError(ctx, ErrNYI, fmt.Sprintf(msg, args...))
}

// NewOOM reports that a memory budget could not be satisfied. The buffer
// pool's temporary memory manager raises it when EvictBlocks fails:
// EvictBlocks itself never throws, it reports failure in-band and leaves
// the decision to the caller.
func NewOOM(ctx context.Context) *Error {
	return newError(ctx, ErrOOM)
}

// NewMemoryLimitError reports that SetLimit could not evict enough
// resident memory to honor a new, tighter limit.
func NewMemoryLimitError(ctx context.Context, limit int64, messageSuffix string) *Error {
	return newError(ctx, ErrMemoryLimit, limit, messageSuffix)
}

func NewQueryInterrupted(ctx context.Context) *Error {
	return newError(ctx, ErrQueryInterrupted)
}

func NewNotSupported(ctx context.Context, msg string, args ...any) *Error {
	return newError(ctx, ErrNotSupported, fmt.Sprintf(msg, args...))
}

func NewBadConfig(ctx context.Context, msg string, args ...any) *Error {
	return newError(ctx, ErrBadConfig, fmt.Sprintf(msg, args...))
}

func NewInvalidInput(ctx context.Context, msg string, args ...any) *Error {
	return newError(ctx, ErrInvalidInput, fmt.Sprintf(msg, args...))
}

func NewInvalidArg(ctx context.Context, arg string, val any) *Error {
	return newError(ctx, ErrInvalidArg, arg, val)
}

func NewInvalidState(ctx context.Context, msg string, args ...any) *Error {
	return newError(ctx, ErrInvalidState, fmt.Sprintf(msg, args...))
}

func NewServiceUnavailable(ctx context.Context, reason string) *Error {
	return newError(ctx, ErrServiceUnavailable, reason)
}

func NewConnectionReset(ctx context.Context) *Error {
	return newError(ctx, ErrConnectionReset)
}

func NewBackendClosedNoCtx() *Error {
	return newError(context.Background(), ErrBackendClosed)
}

func NewNoAvailableBackendNoCtx() *Error {
	return newError(context.Background(), ErrNoAvailableBackend)
}

func NewBackendCannotConnectNoCtx() *Error {
	return newError(context.Background(), ErrBackendCannotConnect)
}

func NewClientClosedNoCtx() *Error {
	return newError(context.Background(), ErrClientClosed)
}

func NewInternalErrorNoCtx(msg string, args ...any) *Error {
	return newError(context.Background(), ErrInternal, fmt.Sprintf(msg, args...))
}

// IsConnectionRelatedRPCError reports whether err represents a failure
// to establish or keep open a connection to a remote backend, as opposed
// to an application-level failure on an otherwise healthy connection.
func IsConnectionRelatedRPCError(err error) bool {
	me, ok := err.(*Error)
	if !ok {
		return false
	}
	switch me.code {
	case ErrBackendClosed, ErrNoAvailableBackend, ErrBackendCannotConnect, ErrServiceUnavailable, ErrConnectionReset:
		return true
	default:
		return false
	}
}

// IsRPCClientClosed reports whether err indicates the local client side
// of an RPC connection was closed.
func IsRPCClientClosed(err error) bool {
	return IsMoErrCode(err, ErrClientClosed)
}
