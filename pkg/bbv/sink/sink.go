// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package sink provides the output streams a BBV engine writes slice rows
// to. The engine only sees an appendable byte stream; the concrete sinks
// here cover the production case (a gzip-compressed file) and an in-memory
// buffer for tests and dry runs.
package sink

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
)

// Sink is an append-only byte stream with an explicit close. Writes are
// not required to be durable until Close returns.
type Sink interface {
	Write(p []byte) (int, error)
	Close() error
}

// FileName derives the output file name for a benchmark name.
func FileName(name string) string {
	return name + "_bbv.gz"
}

type gzipFile struct {
	gz      *gzip.Writer
	closeFn func() error
}

// NewGzipFile creates fname on fs and returns a sink that compresses
// everything written to it. A creation failure is returned to the caller;
// installation must treat it as fatal rather than silently profiling into
// the void.
func NewGzipFile(fs afero.Fs, fname string) (Sink, error) {
	f, err := fs.Create(fname)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", fname, err)
	}

	gz := gzip.NewWriter(f)
	return &gzipFile{
		gz: gz,
		closeFn: func() error {
			if err := gz.Close(); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}, nil
}

func (s *gzipFile) Write(p []byte) (int, error) {
	return s.gz.Write(p)
}

func (s *gzipFile) Close() error {
	return s.closeFn()
}

// Buffer is an in-memory Sink. The zero value is ready to use.
type Buffer struct {
	bytes.Buffer
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) Close() error {
	return nil
}
