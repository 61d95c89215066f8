// Package batch reads job batch files for `launchpad run`.
//
// A batch file is YAML (or JSON) holding either a bare list of jobs or an
// object with run options and a jobs list:
//
//	mode: parallel
//	base_port: 9222
//	timeout: 2m
//	jobs:
//	  - topic: Apple Inc
//	    ticker: AAPL
//	    goal: Summarise analyst sentiment
//	    sources: [https://finance.yahoo.com/quote/AAPL]
//	    metadata: {maxStepsPerSource: 10}
//
// Single-page entries may use link/prompt instead of sources/goal; the link
// doubles as the topic when none is given.
package batch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/launchpad/internal/job"
)

// File is a decoded batch file. Zero-valued options defer to configuration.
type File struct {
	Mode        string        `yaml:"mode,omitempty"`
	MaxParallel int           `yaml:"max_parallel,omitempty"`
	BasePort    int           `yaml:"base_port,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Jobs        []Entry       `yaml:"jobs"`
}

// Entry is one job in a batch file.
type Entry struct {
	Ticker   string         `yaml:"ticker,omitempty"`
	Topic    string         `yaml:"topic,omitempty"`
	Goal     string         `yaml:"goal,omitempty"`
	Sources  []string       `yaml:"sources,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty"`

	Link   string `yaml:"link,omitempty"`
	Prompt string `yaml:"prompt,omitempty"`
}

// ErrEmpty is returned for a batch with no jobs.
var ErrEmpty = errors.New("batch contains no jobs")

// Load reads and decodes path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes batch bytes. Unknown keys are rejected so typos surface
// before any worker starts.
func Parse(data []byte) (*File, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse batch: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, ErrEmpty
	}

	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var err error
	if root.Content[0].Kind == yaml.SequenceNode {
		err = dec.Decode(&f.Jobs)
	} else {
		err = dec.Decode(&f)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode batch: %w", err)
	}
	if len(f.Jobs) == 0 {
		return nil, ErrEmpty
	}
	return &f, nil
}

// Descriptors converts the entries. Validation is left to the orchestrator
// so errors carry the job index.
func (f *File) Descriptors() []job.Descriptor {
	out := make([]job.Descriptor, 0, len(f.Jobs))
	for _, e := range f.Jobs {
		out = append(out, e.Descriptor())
	}
	return out
}

// Descriptor maps the entry, folding link/prompt into sources/goal.
func (e Entry) Descriptor() job.Descriptor {
	d := job.Descriptor{
		Ticker:   e.Ticker,
		Topic:    e.Topic,
		Goal:     e.Goal,
		Sources:  append([]string(nil), e.Sources...),
		Metadata: e.Metadata,
	}
	if e.Link != "" {
		d.Sources = append(d.Sources, e.Link)
		if d.Topic == "" {
			d.Topic = e.Link
		}
	}
	if d.Goal == "" {
		d.Goal = e.Prompt
	}
	return d
}
