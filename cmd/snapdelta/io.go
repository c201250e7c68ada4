package main

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"

	"github.com/yairfalse/snapdelta/internal/codec"
	"github.com/yairfalse/snapdelta/pkg/resource"
)

// docFormat resolves the document format for a path, preferring --format.
func (a *app) docFormat(path string) (codec.Format, bool, error) {
	inferred, compressed := codec.FormatFromPath(path)
	if a.format == "" {
		return inferred, compressed, nil
	}
	f, err := codec.ParseFormat(a.format)
	return f, compressed, err
}

// readCollection decodes a collection from path, or stdin for "-".
func (a *app) readCollection(path string) (resource.Collection, error) {
	f, _, err := a.docFormat(path)
	if err != nil {
		return resource.Collection{}, err
	}

	var r io.Reader = os.Stdin
	if path != "-" {
		file, err := os.Open(path) // #nosec G304 -- path is intentional user input
		if err != nil {
			return resource.Collection{}, fmt.Errorf("open %s: %w", path, err)
		}
		defer func() { _ = file.Close() }()
		r = file
	}

	c, err := codec.Decode(r, f)
	if err != nil {
		return resource.Collection{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// writeOutput runs encode against the --output destination.
func (a *app) writeOutput(stdout io.Writer, encode func(io.Writer, codec.Format) error) error {
	f, compressed, err := a.docFormat(a.output)
	if err != nil {
		return err
	}

	if a.output == "" || a.output == "-" {
		return encode(stdout, f)
	}

	file, err := os.Create(a.output) // #nosec G304 -- path is intentional user input
	if err != nil {
		return fmt.Errorf("create %s: %w", a.output, err)
	}
	defer func() { _ = file.Close() }()

	var w io.Writer = file
	var zw *gzip.Writer
	if compressed {
		zw = gzip.NewWriter(file)
		w = zw
	}
	if err := encode(w, f); err != nil {
		return err
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return fmt.Errorf("close gzip stream: %w", err)
		}
	}
	return file.Close()
}
