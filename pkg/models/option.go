package models

import (
	"errors"
	"fmt"
)

// Field is a single named cell of a contract record.
type Field struct {
	Name  string
	Value any
}

// Record is one row of an options table (a call or a put). Fields keep the
// order the provider sent them in; names and values are passed through
// untouched.
//
// Value holds one of: nil, string, bool, json.Number, json.RawMessage, or a
// native Go number.
type Record []Field

// Get returns the value of the named field.
func (r Record) Get(name string) (any, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// ContractTable is an ordered table of contract records. Columns is the union
// of field names across all rows in first-seen order; every record carries
// every column.
type ContractTable struct {
	Columns []string
	Records []Record
}

// Len returns the number of rows. A nil table has none.
func (t *ContractTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Records)
}

// OptionsChain is the calls and puts for one expiration date.
type OptionsChain struct {
	Calls *ContractTable
	Puts  *ContractTable
}

// OptionsData maps expiration date to chain, remembering insertion order.
type OptionsData struct {
	dates  []string
	chains map[string]OptionsChain
}

// NewOptionsData returns an empty document.
func NewOptionsData() *OptionsData {
	return &OptionsData{chains: make(map[string]OptionsChain)}
}

// Set stores the chain for date. Re-setting an existing date replaces its
// value but keeps its original position.
func (d *OptionsData) Set(date string, chain OptionsChain) {
	if d.chains == nil {
		d.chains = make(map[string]OptionsChain)
	}
	if _, ok := d.chains[date]; !ok {
		d.dates = append(d.dates, date)
	}
	d.chains[date] = chain
}

// Get returns the chain stored for date.
func (d *OptionsData) Get(date string) (OptionsChain, bool) {
	c, ok := d.chains[date]
	return c, ok
}

// Dates returns the expiration dates in insertion order.
func (d *OptionsData) Dates() []string {
	out := make([]string, len(d.dates))
	copy(out, d.dates)
	return out
}

// Len returns the number of expiration dates.
func (d *OptionsData) Len() int { return len(d.dates) }

// MarshalJSON encodes the document with non-finite numbers written as null.
func (d *OptionsData) MarshalJSON() ([]byte, error) {
	return Encoder{NonFinite: NonFiniteNull}.Marshal(d)
}

// NonFinitePolicy selects how NaN and ±Inf are written. JSON has no literal
// for either.
type NonFinitePolicy string

const (
	NonFiniteNull  NonFinitePolicy = "null"
	NonFiniteError NonFinitePolicy = "error"
)

// ErrNonFinite is returned by an Encoder using NonFiniteError.
var ErrNonFinite = errors.New("non-finite number cannot be encoded as JSON")

// ParseNonFinitePolicy parses a config value. The empty string means null.
func ParseNonFinitePolicy(s string) (NonFinitePolicy, error) {
	switch NonFinitePolicy(s) {
	case "", NonFiniteNull:
		return NonFiniteNull, nil
	case NonFiniteError:
		return NonFiniteError, nil
	default:
		return "", fmt.Errorf("unknown non-finite policy %q (want %q or %q)", s, NonFiniteNull, NonFiniteError)
	}
}
