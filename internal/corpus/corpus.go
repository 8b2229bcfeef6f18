// Package corpus holds the enumerated phrase set that utterances are matched
// against.
//
// A [Corpus] is built once from validated [Entry] values and is read-only
// afterwards: it can be shared across any number of concurrent match requests
// without locking. Iteration order is the construction order and is the
// tie-break order used by the ranking stage.
package corpus

import (
	"errors"
	"fmt"
	"strings"
)

// Entry is a single phrase with the intent it resolves to.
type Entry struct {
	// Key is the canonical intent identifier, unique across the corpus.
	Key string `yaml:"key" json:"key"`

	// Text is the reference phrase compared against the utterance.
	Text string `yaml:"text" json:"text"`

	// IntentType is the category or subject of the intent (e.g. "TIME").
	IntentType string `yaml:"subject" json:"subject"`

	// Item is the specific item within IntentType (e.g. "NOW").
	Item string `yaml:"item" json:"item"`
}

// InvalidPhraseEntryError reports an entry rejected by [New].
type InvalidPhraseEntryError struct {
	// Index is the position of the entry in the slice passed to New.
	Index int

	// Key is the entry's key, possibly empty.
	Key string

	// Field names the offending field ("key", "text", "subject", "item").
	Field string

	Reason string
}

// Error implements error.
func (e *InvalidPhraseEntryError) Error() string {
	return fmt.Sprintf("corpus: entry[%d] (key %q): %s %s", e.Index, e.Key, e.Field, e.Reason)
}

// Corpus is an immutable, ordered collection of phrase entries.
type Corpus struct {
	entries []Entry
	byKey   map[string]int
}

// New validates entries and returns a [Corpus] preserving their order.
//
// Every field of every entry must be non-empty after trimming whitespace, and
// keys must be unique. All problems are reported: the returned error joins one
// [*InvalidPhraseEntryError] per failure.
func New(entries ...Entry) (*Corpus, error) {
	var errs []error
	c := &Corpus{
		entries: make([]Entry, 0, len(entries)),
		byKey:   make(map[string]int, len(entries)),
	}

	for i, e := range entries {
		e = Entry{
			Key:        strings.TrimSpace(e.Key),
			Text:       strings.TrimSpace(e.Text),
			IntentType: strings.TrimSpace(e.IntentType),
			Item:       strings.TrimSpace(e.Item),
		}

		var missing bool
		for _, f := range []struct{ name, value string }{
			{"key", e.Key},
			{"text", e.Text},
			{"subject", e.IntentType},
			{"item", e.Item},
		} {
			if f.value == "" {
				errs = append(errs, &InvalidPhraseEntryError{Index: i, Key: e.Key, Field: f.name, Reason: "is required"})
				missing = true
			}
		}
		if e.Key != "" {
			if prev, dup := c.byKey[e.Key]; dup {
				errs = append(errs, &InvalidPhraseEntryError{
					Index:  i,
					Key:    e.Key,
					Field:  "key",
					Reason: fmt.Sprintf("is a duplicate of entry[%d]", prev),
				})
				continue
			}
			c.byKey[e.Key] = i
		}
		if missing {
			continue
		}
		c.entries = append(c.entries, e)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

// MustNew is like [New] but panics on error.
func MustNew(entries ...Entry) *Corpus {
	c, err := New(entries...)
	if err != nil {
		panic(err)
	}
	return c
}

// Len returns the number of entries.
func (c *Corpus) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// At returns a pointer to the i-th entry. The pointee must not be modified.
func (c *Corpus) At(i int) *Entry {
	return &c.entries[i]
}

// Lookup returns the entry with the given key.
func (c *Corpus) Lookup(key string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	i, ok := c.byKey[key]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// Entries returns a copy of all entries in corpus order.
func (c *Corpus) Entries() []Entry {
	if c == nil {
		return nil
	}
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}
