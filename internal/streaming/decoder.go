package streaming

import (
	"bufio"
	"bytes"
	"io"
)

// maxFrameSize caps a single SSE or NDJSON line; vendor frames with large
// tool arguments can exceed bufio's 64KB default. Longer lines fail with
// bufio.ErrTooLong.
const maxFrameSize = 4 << 20

// Decoder yields raw frames from a stream. Next returns io.EOF at the end.
type Decoder interface {
	Next() ([]byte, error)
}

// NewDecoder returns the decoder for format.
func NewDecoder(format Format, r io.Reader) Decoder {
	if format == FormatNDJSON {
		return NewNDJSONDecoder(r)
	}
	return NewSSEDecoder(r)
}

// SSEDecoder decodes Server-Sent Events and yields "data:" payloads. Multiple
// data lines in one event are joined with "\n". Comments and the event, id
// and retry fields are skipped.
type SSEDecoder struct {
	r   *bufio.Reader
	buf [][]byte
}

// NewSSEDecoder creates an SSE decoder.
func NewSSEDecoder(r io.Reader) *SSEDecoder {
	return &SSEDecoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next event's data payload.
func (d *SSEDecoder) Next() ([]byte, error) {
	for {
		line, err := d.readLine()
		if err != nil && err != io.EOF {
			return nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		if len(line) == 0 {
			if len(d.buf) > 0 {
				return d.flush(), nil
			}
			if err == io.EOF {
				return nil, io.EOF
			}
			continue
		}

		if data, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			d.buf = append(d.buf, bytes.Clone(bytes.TrimPrefix(data, []byte(" "))))
		}

		if err == io.EOF {
			if len(d.buf) > 0 {
				return d.flush(), nil
			}
			return nil, io.EOF
		}
	}
}

func (d *SSEDecoder) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := d.r.ReadSlice('\n')
		if len(line)+len(chunk) > maxFrameSize {
			return nil, bufio.ErrTooLong
		}
		line = append(line, chunk...)
		if err != bufio.ErrBufferFull {
			return line, err
		}
	}
}

func (d *SSEDecoder) flush() []byte {
	out := bytes.Join(d.buf, []byte("\n"))
	d.buf = d.buf[:0]
	return out
}

// NDJSONDecoder yields one non-blank line per frame.
type NDJSONDecoder struct {
	s *bufio.Scanner
}

// NewNDJSONDecoder creates a newline-delimited JSON decoder.
func NewNDJSONDecoder(r io.Reader) *NDJSONDecoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return &NDJSONDecoder{s: s}
}

// Next returns the next line.
func (d *NDJSONDecoder) Next() ([]byte, error) {
	for d.s.Scan() {
		line := bytes.TrimSpace(d.s.Bytes())
		if len(line) == 0 {
			continue
		}
		return bytes.Clone(line), nil
	}
	if err := d.s.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
