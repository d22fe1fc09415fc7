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

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

var errEmptyID = errors.New("container id cannot be empty")

// fatal prints the error's details if available and then exits the
// program with an error status.
func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// setupSpec reads the runtime spec (config.json) from the bundle named
// by the command's --bundle flag.
func setupSpec(context *cli.Context) (*specs.Spec, error) {
	bundle := context.String("bundle")
	if bundle != "" {
		if err := os.Chdir(bundle); err != nil {
			return nil, err
		}
	}
	specBytes, err := os.ReadFile(specConfig)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Errorf("JSON specification file %s not found", specConfig)
		}
		return nil, err
	}

	var spec specs.Spec
	if err := json.Unmarshal(specBytes, &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

// consoleSocketPath is where a container's console server listens:
// <root>/<container-id>/console.sock.
func consoleSocketPath(context *cli.Context, id string) string {
	return filepath.Join(context.GlobalString("root"), id, "console.sock")
}

// parseEscape turns the --escape flag ("a".."z") into the control byte
// the session watches for.
func parseEscape(s string) (byte, error) {
	if len(s) != 1 || s[0] < 'a' || s[0] > 'z' {
		return 0, errors.Errorf("invalid escape character %q, want a single letter a-z", s)
	}
	return s[0] - 'a' + 1, nil
}
