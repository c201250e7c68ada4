// Package codec reads and writes collection and report documents.
package codec

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/snapdelta/pkg/resource"
)

// Format is a document serialization.
type Format string

const (
	// FormatYAML is the default document format.
	FormatYAML Format = "yaml"
	// FormatJSON is JSON with two-space indentation.
	FormatJSON Format = "json"
)

// gzipMagic is the two-byte gzip member header.
var gzipMagic = []byte{0x1f, 0x8b}

// ParseFormat parses a format name. The empty string means YAML.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown format %q (want yaml or json)", s)
	}
}

// FormatFromPath infers the format from a file name, ignoring a trailing .gz.
// It also reports whether the name asks for compression.
func FormatFromPath(path string) (Format, bool) {
	name := strings.ToLower(path)
	compressed := strings.HasSuffix(name, ".gz")
	name = strings.TrimSuffix(name, ".gz")
	if filepath.Ext(name) == ".json" {
		return FormatJSON, compressed
	}
	return FormatYAML, compressed
}

// Encode writes c in the given format. Timestamps inside raw configs are
// written in UTC, the form the fingerprint hashes, so a decoded document
// re-hashes to the same digest.
func Encode(w io.Writer, c resource.Collection, f Format) error {
	if err := encode(w, utcCollection(c), f); err != nil {
		return fmt.Errorf("encode collection %s: %w", c.Name, err)
	}
	return nil
}

// EncodeCompressed writes c as a gzip stream.
func EncodeCompressed(w io.Writer, c resource.Collection, f Format) error {
	zw := gzip.NewWriter(w)
	if err := Encode(zw, c, f); err != nil {
		_ = zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close gzip stream: %w", err)
	}
	return nil
}

// Decode reads a collection, transparently decompressing gzip input, and
// validates it before returning.
func Decode(r io.Reader, f Format) (resource.Collection, error) {
	var c resource.Collection

	body, closer, err := maybeGunzip(r)
	if err != nil {
		return c, err
	}
	defer closer()

	if err := decode(body, &c, f); err != nil {
		return c, fmt.Errorf("decode collection: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("invalid collection: %w", err)
	}
	return c, nil
}

// utcCollection returns c with raw-config timestamps converted to UTC. The
// caller's resources are copied, never modified.
func utcCollection(c resource.Collection) resource.Collection {
	var out []resource.Resource
	for i, r := range c.Resources {
		if !hasLocalTime(r.RawConfig) {
			continue
		}
		if out == nil {
			out = make([]resource.Resource, len(c.Resources))
			copy(out, c.Resources)
		}
		out[i].RawConfig, _ = utcTimes(r.RawConfig).(map[string]any)
	}
	if out != nil {
		c.Resources = out
	}
	return c
}

func hasLocalTime(v any) bool {
	switch t := v.(type) {
	case time.Time:
		return t.Location() != time.UTC
	case *time.Time:
		return t != nil && t.Location() != time.UTC
	case map[string]any:
		for _, val := range t {
			if hasLocalTime(val) {
				return true
			}
		}
	case []any:
		for _, val := range t {
			if hasLocalTime(val) {
				return true
			}
		}
	}
	return false
}

func utcTimes(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case *time.Time:
		if t == nil {
			return t
		}
		u := t.UTC()
		return &u
	case map[string]any:
		if t == nil {
			return t
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = utcTimes(val)
		}
		return out
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = utcTimes(val)
		}
		return out
	default:
		return v
	}
}

// maybeGunzip peeks at the stream and wraps it in a gzip reader when the
// gzip header is present.
func maybeGunzip(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(gzipMagic))
	if err != nil && err != io.EOF {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	if len(head) < len(gzipMagic) || head[0] != gzipMagic[0] || head[1] != gzipMagic[1] {
		return br, func() {}, nil
	}

	zr, err := gzip.NewReader(br)
	if err != nil {
		return nil, nil, fmt.Errorf("open gzip stream: %w", err)
	}
	return zr, func() { _ = zr.Close() }, nil
}

func encode(w io.Writer, v any, f Format) error {
	switch f {
	case FormatYAML, "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown format %q", f)
	}
}

func decode(r io.Reader, v any, f Format) error {
	switch f {
	case FormatYAML, "":
		if err := yaml.NewDecoder(r).Decode(v); err != nil && err != io.EOF {
			return err
		}
		return nil
	case FormatJSON:
		dec := json.NewDecoder(r)
		// Keep integers exact so re-fingerprinting a decoded config is stable
		dec.UseNumber()
		if err := dec.Decode(v); err != nil && err != io.EOF {
			return err
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", f)
	}
}
