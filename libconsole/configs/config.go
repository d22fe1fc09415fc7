// Copyright (c) 2018, IBM
//
// Permission to use, copy, modify, and/or distribute this software for
// any purpose with or without fee is hereby granted, provided that the
// above copyright notice and this permission notice appear in all
// copies.
//
// THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL
// WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED
// WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE
// AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL
// DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA
// OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER
// TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR
// PERFORMANCE OF THIS SOFTWARE.

package configs

// Config is the console-relevant slice of a container's configuration,
// derived from the OCI runtime spec.
type Config struct {
	// Rootfs is the container root filesystem path. A container
	// without a rootfs gets no console.
	Rootfs string `json:"rootfs"`

	// IsExecute marks a container run in execute mode, which gets no
	// console either.
	IsExecute bool `json:"is_execute"`

	// ConsolePath optionally binds the console peer to a device or
	// file. "none" disables the console entirely; empty means "try the
	// controlling terminal".
	ConsolePath string `json:"console_path"`

	// LogPath optionally names an append-only file receiving a
	// verbatim copy of all console traffic.
	LogPath string `json:"log_path"`

	// TtyCount is the number of auxiliary ttys to expose, indexed
	// 1..TtyCount.
	TtyCount int `json:"tty_count"`

	// Version is the version of opencontainer specification that is
	// supported.
	Version string `json:"version"`

	// Labels are user defined metadata that is stored in the config
	// and populated on the state
	Labels []string `json:"labels"`
}
