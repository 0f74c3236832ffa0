// Package encode maps low-cardinality string columns to compact integer
// codes through an append-only dictionary. Codes are assigned in first-seen
// order and never change or disappear for the lifetime of a run, so every
// partition observes a consistent mapping regardless of which worker touched
// it first.
package encode

import (
	"fmt"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalizer folds each value to NFC and strips zero-width characters before
// lookup, so visually identical strings share one code.
var normalizer = transform.Chain(
	norm.NFC,
	runes.Remove(runes.In(unicode.Cf)),
)

// Dictionary is an append-only mapping from string values to int64 codes.
// It is safe for concurrent use by multiple partition workers.
type Dictionary struct {
	mu     sync.RWMutex
	codes  map[string]int64
	values []string
}

// NewDictionary returns an empty dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{codes: make(map[string]int64)}
}

// Code returns the code for v, assigning the next one if v is new. The
// assignment is atomic: concurrent callers presenting the same value always
// receive the same code.
func (d *Dictionary) Code(v string) int64 {
	key := normalize(v)

	d.mu.RLock()
	c, ok := d.codes[key]
	d.mu.RUnlock()
	if ok {
		return c
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.codes[key]; ok {
		return c
	}
	c = int64(len(d.values))
	d.codes[key] = c
	d.values = append(d.values, key)
	return c
}

// Value returns the string for a previously assigned code. It never assigns;
// an unknown code returns ok=false.
func (d *Dictionary) Value(code int64) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if code < 0 || code >= int64(len(d.values)) {
		return "", false
	}
	return d.values[code], true
}

// Len returns the number of distinct values seen so far.
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.values)
}

// Values returns a snapshot of all values in code order. Index i holds the
// value for code i.
func (d *Dictionary) Values() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.values...)
}

func normalize(v string) string {
	out, _, err := transform.String(normalizer, v)
	if err != nil {
		// The chain cannot fail on valid UTF-8; fall back to the raw value
		// for anything else.
		return v
	}
	return out
}

// String implements fmt.Stringer for log output.
func (d *Dictionary) String() string {
	return fmt.Sprintf("dictionary(%d values)", d.Len())
}
