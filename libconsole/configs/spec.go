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

import (
	"fmt"
	"strconv"

	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/pkg/errors"
)

// Annotation keys understood on the OCI spec.
const (
	AnnotationTtyCount    = "com.nabla.conmux.ttys"
	AnnotationConsolePath = "com.nabla.conmux.console"
	AnnotationLogPath     = "com.nabla.conmux.log"
	AnnotationExecute     = "com.nabla.conmux.execute"
)

// DefaultTtyCount is used when the spec does not name a tty count.
const DefaultTtyCount = 4

// ParseSpec extracts the console configuration from an OCI runtime
// spec.
func ParseSpec(s *specs.Spec) (*Config, error) {
	if s == nil {
		return nil, errors.New("Spec is nil")
	}

	if s.Root == nil {
		return nil, errors.New("Root is nil")
	}

	labels := []string{}
	for k, v := range s.Annotations {
		labels = append(labels, fmt.Sprintf("%s=%s", k, v))
	}

	cfg := Config{
		Rootfs:      s.Root.Path,
		ConsolePath: s.Annotations[AnnotationConsolePath],
		LogPath:     s.Annotations[AnnotationLogPath],
		TtyCount:    DefaultTtyCount,
		Version:     s.Version,
		Labels:      labels,
	}

	if v, ok := s.Annotations[AnnotationTtyCount]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, errors.Errorf("invalid tty count %q", v)
		}
		cfg.TtyCount = n
	}

	if v, ok := s.Annotations[AnnotationExecute]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.Errorf("invalid execute annotation %q", v)
		}
		cfg.IsExecute = b
	}

	return &cfg, nil
}
