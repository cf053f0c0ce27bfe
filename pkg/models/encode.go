package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Encoder writes an OptionsData as compact JSON, preserving both expiration
// order and per-record field order.
type Encoder struct {
	NonFinite NonFinitePolicy
}

// cellRef locates a value inside the document for error messages.
type cellRef struct {
	date  string
	side  string
	row   int
	field string
}

func (c cellRef) String() string {
	return fmt.Sprintf("%s %s[%d].%s", c.date, c.side, c.row, c.field)
}

// Marshal encodes d. A nil document encodes as {}.
func (e Encoder) Marshal(d *OptionsData) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if d != nil {
		for i, date := range d.dates {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(&buf, date); err != nil {
				return nil, err
			}
			chain := d.chains[date]
			buf.WriteString(`:{"calls":`)
			if err := e.writeTable(&buf, chain.Calls, date, "calls"); err != nil {
				return nil, err
			}
			buf.WriteString(`,"puts":`)
			if err := e.writeTable(&buf, chain.Puts, date, "puts"); err != nil {
				return nil, err
			}
			buf.WriteByte('}')
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (e Encoder) writeTable(buf *bytes.Buffer, t *ContractTable, date, side string) error {
	buf.WriteByte('[')
	if t != nil {
		for i, rec := range t.Records {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteByte('{')
			for j, f := range rec {
				if j > 0 {
					buf.WriteByte(',')
				}
				if err := writeString(buf, f.Name); err != nil {
					return err
				}
				buf.WriteByte(':')
				ref := cellRef{date: date, side: side, row: i, field: f.Name}
				if err := e.writeValue(buf, f.Value, ref); err != nil {
					return err
				}
			}
			buf.WriteByte('}')
		}
	}
	buf.WriteByte(']')
	return nil
}

func (e Encoder) writeValue(buf *bytes.Buffer, v any, ref cellRef) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case json.Number:
		if json.Valid([]byte(x)) {
			buf.WriteString(string(x))
			return nil
		}
		if f, err := strconv.ParseFloat(string(x), 64); err == nil && !isFinite(f) {
			return e.writeNonFinite(buf, ref)
		}
		return fmt.Errorf("encode %s: invalid number %q", ref, string(x))
	case json.RawMessage:
		if err := json.Compact(buf, x); err != nil {
			return fmt.Errorf("encode %s: %w", ref, err)
		}
		return nil
	case float64:
		if !isFinite(x) {
			return e.writeNonFinite(buf, ref)
		}
	case float32:
		if !isFinite(float64(x)) {
			return e.writeNonFinite(buf, ref)
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ref, err)
	}
	buf.Write(b)
	return nil
}

func (e Encoder) writeNonFinite(buf *bytes.Buffer, ref cellRef) error {
	if e.NonFinite == NonFiniteError {
		return fmt.Errorf("%w at %s", ErrNonFinite, ref)
	}
	buf.WriteString("null")
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
