// Package json implements the incremental row parser used by the sync
// pipeline.
//
// The input is a single JSON array of flat row objects, the format query
// engines produce for "json_label" exports:
//
//	[
//	  {"Users Email": "a@b.com", "Users Zip": "90210"},
//	  {"Users Email": "c@d.com", "Users Zip": null}
//	]
//
// StreamRows walks the array token by token with encoding/json.Decoder, so only
// the object currently being decoded is held in memory. Each completed object
// is handed to the caller before the next one is read.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"audiencesync/internal/transformer"
)

// ParseError reports malformed input. Row is the 1-based index of the array
// element being decoded when the failure happened (0 when the array itself is
// malformed).
type ParseError struct {
	Row int
	Err error
}

func (e *ParseError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("json: row %d: %v", e.Row, e.Err)
	}
	return fmt.Sprintf("json: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StreamRows decodes r and calls onRow once per row object, in order.
//
// Contract:
//
//   - The *Row passed to onRow is reused for the next object; onRow must copy
//     whatever it needs before returning.
//   - Values are strings; JSON numbers and booleans are carried as their
//     literal text, null as an invalid Value. Nested objects or arrays are
//     rejected.
//   - Empty input (no bytes at all) yields zero rows and no error.
//   - An error returned by onRow stops parsing and is returned unchanged.
//   - ctx is checked between rows.
//
// It returns the number of rows delivered.
func StreamRows(
	ctx context.Context,
	r io.Reader,
	onRow func(*transformer.Row) error,
) (int, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, &ParseError{Err: fmt.Errorf("read array start: %w", err)}
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return 0, &ParseError{Err: fmt.Errorf("expected array, got %v", describe(tok))}
	}

	row := &transformer.Row{}
	n := 0
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return n, err
		}

		row.Reset(n + 1)
		if err := decodeObject(dec, row); err != nil {
			return n, &ParseError{Row: n + 1, Err: err}
		}
		n++
		if err := onRow(row); err != nil {
			return n, err
		}
	}

	if _, err := dec.Token(); err != nil {
		return n, &ParseError{Err: fmt.Errorf("read array end: %w", err)}
	}
	if tok, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err != nil {
			return n, &ParseError{Err: fmt.Errorf("after array: %w", err)}
		}
		return n, &ParseError{Err: fmt.Errorf("unexpected %v after array", describe(tok))}
	}
	return n, nil
}

// decodeObject reads one {...} into row.
func decodeObject(dec *json.Decoder, row *transformer.Row) error {
	tok, err := dec.Token()
	if err != nil {
		return unexpectedEOF(err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("array element is not an object (got %v)", describe(tok))
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return unexpectedEOF(err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", describe(tok))
		}

		tok, err = dec.Token()
		if err != nil {
			return unexpectedEOF(err)
		}
		switch v := tok.(type) {
		case string:
			row.Set(key, transformer.Value{S: v, Valid: true})
		case json.Number:
			row.Set(key, transformer.Value{S: v.String(), Valid: true})
		case bool:
			row.Set(key, transformer.Value{S: strconv.FormatBool(v), Valid: true})
		case nil:
			row.Set(key, transformer.Value{})
		default:
			return fmt.Errorf("column %q: nested values are not supported", key)
		}
	}

	// Closing '}'.
	if _, err := dec.Token(); err != nil {
		return unexpectedEOF(err)
	}
	return nil
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func describe(tok json.Token) string {
	switch v := tok.(type) {
	case json.Delim:
		return fmt.Sprintf("%q", string(v))
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
