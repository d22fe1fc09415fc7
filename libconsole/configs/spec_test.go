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
	"testing"

	"github.com/opencontainers/runtime-spec/specs-go"
)

func baseSpec() *specs.Spec {
	return &specs.Spec{
		Version: specs.Version,
		Root:    &specs.Root{Path: "/var/lib/test/rootfs"},
	}
}

func TestParseSpecDefaults(t *testing.T) {
	cfg, err := ParseSpec(baseSpec())
	if err != nil {
		t.Fatalf("parse spec: %v", err)
	}
	if cfg.Rootfs != "/var/lib/test/rootfs" {
		t.Fatalf("rootfs %q", cfg.Rootfs)
	}
	if cfg.TtyCount != DefaultTtyCount {
		t.Fatalf("tty count %d, want default %d", cfg.TtyCount, DefaultTtyCount)
	}
	if cfg.IsExecute || cfg.ConsolePath != "" || cfg.LogPath != "" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestParseSpecAnnotations(t *testing.T) {
	s := baseSpec()
	s.Annotations = map[string]string{
		AnnotationTtyCount:    "8",
		AnnotationConsolePath: "/dev/console",
		AnnotationLogPath:     "/var/log/console.log",
		AnnotationExecute:     "true",
	}

	cfg, err := ParseSpec(s)
	if err != nil {
		t.Fatalf("parse spec: %v", err)
	}
	if cfg.TtyCount != 8 {
		t.Fatalf("tty count %d", cfg.TtyCount)
	}
	if cfg.ConsolePath != "/dev/console" || cfg.LogPath != "/var/log/console.log" {
		t.Fatalf("paths not picked up: %+v", cfg)
	}
	if !cfg.IsExecute {
		t.Fatal("execute annotation not picked up")
	}
	if len(cfg.Labels) != 4 {
		t.Fatalf("labels %v", cfg.Labels)
	}
}

func TestParseSpecInvalid(t *testing.T) {
	if _, err := ParseSpec(nil); err == nil {
		t.Fatal("nil spec accepted")
	}

	s := baseSpec()
	s.Root = nil
	if _, err := ParseSpec(s); err == nil {
		t.Fatal("spec without root accepted")
	}

	s = baseSpec()
	s.Annotations = map[string]string{AnnotationTtyCount: "-3"}
	if _, err := ParseSpec(s); err == nil {
		t.Fatal("negative tty count accepted")
	}

	s = baseSpec()
	s.Annotations = map[string]string{AnnotationExecute: "maybe"}
	if _, err := ParseSpec(s); err == nil {
		t.Fatal("bad execute annotation accepted")
	}
}
