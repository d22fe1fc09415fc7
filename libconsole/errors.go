// Copyright 2014 Docker, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package libconsole

import "io"

// ErrorCode is the API error code type.
type ErrorCode int

// API error codes.
const (
	// Terminal errors
	NotATty ErrorCode = iota

	// Allocation errors
	AllocationBusy
	NoFreeSlot
	AlreadyConfigured

	// Common errors
	ResourceExhausted
	ProtocolFailure
	SystemError
)

func (c ErrorCode) String() string {
	switch c {
	case NotATty:
		return "Descriptor is not a tty"
	case AllocationBusy:
		return "Console or tty already in use"
	case NoFreeSlot:
		return "No free tty available"
	case AlreadyConfigured:
		return "Console already configured"
	case ResourceExhausted:
		return "Failed to allocate an OS resource"
	case ProtocolFailure:
		return "Console request failed"
	case SystemError:
		return "System error"
	default:
		return "Unknown error"
	}
}

// Error is the API error type.
type Error interface {
	error

	// Returns a verbose string including the error message
	// and a representation of the stack trace suitable for
	// printing.
	Detail(w io.Writer) error

	// Returns the error code for this error.
	Code() ErrorCode
}
