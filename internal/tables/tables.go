// Package tables loads correction and phrase tables from YAML or JSON files.
//
// A table file holds either or both sections:
//
//	corrections:
//	  - wrong: dime
//	    right: time
//	phrases:
//	  - key: NOW
//	    text: what time is it
//	    subject: TIME
//	    item: NOW
//
// "intent_type" is accepted as an alias of "subject". Several files are merged
// in the order given, so corrections keep a predictable application order.
// Validation happens in [File.Build], which turns the raw tables into the
// immutable [correction.Table] and [corpus.Corpus].
package tables

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxintent/internal/corpus"
	"github.com/MrWong99/voxintent/internal/correction"
)

// Format selects the decoder used by [LoadFromReader].
type Format int

const (
	// FormatYAML decodes YAML. It is the default for every extension other
	// than ".json".
	FormatYAML Format = iota

	// FormatJSON decodes JSON.
	FormatJSON
)

// FormatFromPath returns the format implied by the file extension of path.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// File is the raw, unvalidated content of one or more table files.
type File struct {
	Corrections []correction.Rule `yaml:"corrections" json:"corrections"`
	Phrases     []Phrase          `yaml:"phrases" json:"phrases"`
}

// Phrase is one phrase entry as written in a table file.
type Phrase struct {
	Key     string `yaml:"key" json:"key"`
	Text    string `yaml:"text" json:"text"`
	Subject string `yaml:"subject,omitempty" json:"subject,omitempty"`

	// IntentType is an alias of Subject. When both are set they must agree.
	IntentType string `yaml:"intent_type,omitempty" json:"intent_type,omitempty"`

	Item string `yaml:"item" json:"item"`
}

// entry converts p to a [corpus.Entry], resolving the subject alias. The
// entry is usable even when the alias conflicts; the error only reports it.
func (p Phrase) entry() (corpus.Entry, error) {
	subject := strings.TrimSpace(p.Subject)
	alias := strings.TrimSpace(p.IntentType)
	var err error
	switch {
	case subject == "":
		subject = alias
	case alias != "" && alias != subject:
		err = fmt.Errorf("subject %q and intent_type %q disagree", subject, alias)
	}
	return corpus.Entry{Key: p.Key, Text: p.Text, IntentType: subject, Item: p.Item}, err
}

// LoadFile reads and parses one table file. The format is chosen by
// [FormatFromPath].
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tables: open %q: %w", path, err)
	}
	defer f.Close()

	tf, err := LoadFromReader(f, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("tables: parse %q: %w", path, err)
	}
	return tf, nil
}

// LoadFiles loads every path in order and merges the results with [Merge].
func LoadFiles(paths ...string) (*File, error) {
	files := make([]*File, 0, len(paths))
	for _, p := range paths {
		f, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return Merge(files...), nil
}

// LoadFromReader parses table content from r in the given format. Unknown
// keys are rejected. An empty document yields an empty [File].
func LoadFromReader(r io.Reader, format Format) (*File, error) {
	var tf File
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&tf); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("tables: decode json: %w", err)
		}
	default:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&tf); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("tables: decode yaml: %w", err)
		}
	}
	return &tf, nil
}

// Merge concatenates the corrections and phrases of files in order. Nil
// files are skipped.
func Merge(files ...*File) *File {
	out := &File{}
	for _, f := range files {
		if f == nil {
			continue
		}
		out.Corrections = append(out.Corrections, f.Corrections...)
		out.Phrases = append(out.Phrases, f.Phrases...)
	}
	return out
}

// Build validates f and returns the correction table and phrase corpus it
// describes. All problems in both sections are reported together.
func (f *File) Build() (*correction.Table, *corpus.Corpus, error) {
	var errs []error

	table, err := correction.NewTable(f.Corrections...)
	if err != nil {
		errs = append(errs, err)
	}

	entries := make([]corpus.Entry, 0, len(f.Phrases))
	for i, p := range f.Phrases {
		e, err := p.entry()
		if err != nil {
			errs = append(errs, fmt.Errorf("tables: phrases[%d] (key %q): %w", i, p.Key, err))
		}
		entries = append(entries, e)
	}

	c, err := corpus.New(entries...)
	if err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, nil, err
	}
	return table, c, nil
}

// FromTables converts a built table and corpus back into a [File], using the
// canonical "subject" key.
func FromTables(table *correction.Table, c *corpus.Corpus) *File {
	f := &File{Corrections: table.Rules()}
	for _, e := range c.Entries() {
		f.Phrases = append(f.Phrases, Phrase{Key: e.Key, Text: e.Text, Subject: e.IntentType, Item: e.Item})
	}
	return f
}
