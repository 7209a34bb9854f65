// Package fixture serves candidates from a YAML file mapping terms to URLs. It
// is used for offline runs and tests.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/imgharvest/internal/discovery"
	"github.com/JakeFAU/imgharvest/internal/harvest"
)

// File is the on-disk layout:
//
//	terms:
//	  sun:
//	    - https://img.example/sun-1.jpg
type File struct {
	Terms map[string][]string `yaml:"terms"`
}

// Discoverer implements harvest.Discoverer from a fixture file that is re-read
// on every call.
type Discoverer struct {
	path string
	ids  harvest.IDGenerator
}

// New returns a Discoverer reading path.
func New(path string, ids harvest.IDGenerator) (*Discoverer, error) {
	if path == "" {
		return nil, errors.New("fixture discovery: path is required")
	}
	return &Discoverer{path: path, ids: ids}, nil
}

// Discover returns the URLs listed for term. Unknown terms yield an empty
// sequence.
func (d *Discoverer) Discover(ctx context.Context, term string) (iter.Seq[harvest.Candidate], error) {
	if err := ctx.Err(); err != nil {
		return nil, &harvest.DiscoveryError{Term: term, Err: err}
	}
	f, err := Load(d.path)
	if err != nil {
		return nil, &harvest.DiscoveryError{Term: term, Err: err}
	}
	return discovery.Candidates(discovery.Dedupe(f.Terms[term], 0), d.ids), nil
}

// Load reads and decodes a fixture file.
func Load(path string) (File, error) {
	fh, err := os.Open(path) // #nosec G304 -- path comes from operator configuration.
	if err != nil {
		return File{}, fmt.Errorf("open fixture: %w", err)
	}
	defer func() { _ = fh.Close() }()
	return Decode(fh)
}

// Decode parses fixture YAML from r.
func Decode(r io.Reader) (File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("decode fixture: %w", err)
	}
	return f, nil
}
