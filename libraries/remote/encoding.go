// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package remote

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/golang/snappy"
)

// bodyReader returns the decoded body of a request.
func bodyReader(req *http.Request) (io.ReadCloser, error) {
	return decodingReader(req.Header.Get("Content-Encoding"), req.Body)
}

func decodingReader(encoding string, body io.ReadCloser) (io.ReadCloser, error) {
	switch {
	case strings.Contains(encoding, gzipEncoding):
		return gzip.NewReader(body)
	case strings.Contains(encoding, snappyEncoding):
		return io.NopCloser(snappy.NewReader(body)), nil
	}
	return body, nil
}

// respWriter returns a writer for the response body, compressed when the
// client asked for it. It must be closed to flush.
func respWriter(req *http.Request, w http.ResponseWriter) io.WriteCloser {
	accept := req.Header.Get("Accept-Encoding")
	switch {
	case strings.Contains(accept, snappyEncoding):
		w.Header().Add("Content-Encoding", snappyEncoding)
		return snappy.NewBufferedWriter(w)
	case strings.Contains(accept, gzipEncoding):
		w.Header().Add("Content-Encoding", gzipEncoding)
		return gzip.NewWriter(w)
	}
	return nopWriteCloser{w}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}

// snappyFrame compresses |data| into the framed snappy format.
func snappyFrame(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	sw := snappy.NewBufferedWriter(&buf)
	if _, err := sw.Write(data); err != nil {
		return nil, err
	}
	if err := sw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
