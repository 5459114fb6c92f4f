// Package ingest turns upstream parser output into review items. Nothing it
// produces is ever approved.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"dhruv/internal/review/models"
	dErrors "dhruv/pkg/domain-errors"
)

// maxLineBytes bounds a single NDJSON record.
const maxLineBytes = 1 << 20

// MalformedInputError describes one line that could not become a record.
// It is counted, never fatal to the batch.
type MalformedInputError struct {
	Line int
	Err  error
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *MalformedInputError) Unwrap() error { return e.Err }

// Line is a decoded record with its position in the stream.
type Line struct {
	Number int
	Record models.RawParseRecord
}

// DecodeNDJSON reads one JSON object per line. Blank lines are ignored.
// Lines that are not valid JSON objects are returned as MalformedInputErrors
// and decoding continues. The returned error is reserved for streams that
// are unusable as a whole: a read failure, an oversized line, or a body that
// is a JSON array rather than NDJSON. Such an error rejects the batch.
func DecodeNDJSON(r io.Reader) ([]Line, []*MalformedInputError, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		lines     []Line
		malformed []*MalformedInputError
		number    int
		sawData   bool
	)
	for scanner.Scan() {
		number++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if !sawData && raw[0] == '[' {
			return nil, nil, dErrors.New(dErrors.CodeBadRequest, "body is a JSON array; send one JSON object per line")
		}
		sawData = true

		if raw[0] != '{' {
			malformed = append(malformed, &MalformedInputError{Line: number, Err: errors.New("not a JSON object")})
			continue
		}
		var rec models.RawParseRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			malformed = append(malformed, &MalformedInputError{Line: number, Err: err})
			continue
		}
		lines = append(lines, Line{Number: number, Record: rec})
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeBadRequest, fmt.Sprintf("line %d exceeds %d bytes", number+1, maxLineBytes))
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read record stream")
	}
	return lines, malformed, nil
}
