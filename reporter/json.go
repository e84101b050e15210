// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package reporter // import "github.com/chhetripradeep/samply/reporter"

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	log "github.com/sirupsen/logrus"
)

// Format selects the output serialization.
type Format int

const (
	FormatJSON Format = iota
	FormatPprof
)

// ParseFormat maps a -format flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "json":
		return FormatJSON, nil
	case "pprof":
		return FormatPprof, nil
	default:
		return 0, fmt.Errorf("unknown output format '%s'", s)
	}
}

// WriteJSON serializes the profile as the JSON interchange document.
func WriteJSON(w io.Writer, p *Profile) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(BuildDocument(p)); err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	return nil
}

// WriteFile serializes the profile to path in the given format. A path
// ending in .gz is transparently gzip compressed; pprof output is always
// compressed as the format prescribes.
func WriteFile(path string, format Format, p *Profile) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	err = writeTo(f, path, format, p)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	log.Infof("Wrote profile to %s (%d samples, %d threads)",
		path, p.Meta.CapturedSamples, len(p.Threads()))
	return nil
}

func writeTo(w io.Writer, path string, format Format, p *Profile) error {
	if format == FormatPprof {
		return WritePprof(w, p)
	}
	if strings.HasSuffix(path, ".gz") {
		gz := gzip.NewWriter(w)
		if err := WriteJSON(gz, p); err != nil {
			return err
		}
		return gz.Close()
	}
	return WriteJSON(w, p)
}
