package encoding

import (
	"encoding/json"
	"fmt"
	"sort"

	"sleepdx/pkg/errors"
)

// Vocabulary is the fitted label set of one categorical field.
// Codes are dense and zero-based: the code of a label is its index in Labels.
type Vocabulary struct {
	Labels  []string          `json:"labels"`
	Default int               `json:"default"`
	Aliases map[string]string `json:"aliases,omitempty"`
	Counts  []int             `json:"counts,omitempty"`

	index map[string]int // foldKey(label) -> code
}

// FitVocabulary builds a vocabulary from every label observed for a field.
// Labels are canonicalized through aliases, grouped case-insensitively, and
// assigned codes in sorted order. The default code is the most frequent label,
// ties going to the lowest code.
func FitVocabulary(observed []string, aliases map[string]string) (*Vocabulary, error) {
	if len(observed) == 0 {
		return nil, errors.New("no labels observed")
	}

	type group struct {
		display string
		count   int
	}
	groups := make(map[string]*group)
	for _, raw := range observed {
		label := Canonicalize(aliases, raw)
		key := foldKey(label)
		g, ok := groups[key]
		if !ok {
			groups[key] = &group{display: label, count: 1}
			continue
		}
		g.count++
		if label < g.display {
			g.display = label
		}
	}

	labels := make([]string, 0, len(groups))
	counts := make(map[string]int, len(groups))
	for _, g := range groups {
		labels = append(labels, g.display)
		counts[g.display] = g.count
	}
	sort.Strings(labels)

	v := &Vocabulary{
		Labels:  labels,
		Aliases: copyAliases(aliases),
		Counts:  make([]int, len(labels)),
	}
	for code, label := range labels {
		v.Counts[code] = counts[label]
		if v.Counts[code] > v.Counts[v.Default] {
			v.Default = code
		}
	}

	if err := v.buildIndex(); err != nil {
		return nil, err
	}
	return v, nil
}

// Canonical returns the registry form of a raw label
func (v *Vocabulary) Canonical(raw string) string {
	return Canonicalize(v.Aliases, raw)
}

// Lookup returns the code for a raw label, if it was observed during fitting
func (v *Vocabulary) Lookup(raw string) (int, bool) {
	code, ok := v.index[foldKey(v.Canonical(raw))]
	return code, ok
}

// Size returns the number of codes
func (v *Vocabulary) Size() int {
	return len(v.Labels)
}

func (v *Vocabulary) buildIndex() error {
	if len(v.Labels) == 0 {
		return errors.New("empty vocabulary")
	}
	if v.Default < 0 || v.Default >= len(v.Labels) {
		return fmt.Errorf("default code %d outside [0,%d)", v.Default, len(v.Labels))
	}
	if v.Counts != nil && len(v.Counts) != len(v.Labels) {
		return fmt.Errorf("%d counts for %d labels", len(v.Counts), len(v.Labels))
	}

	v.index = make(map[string]int, len(v.Labels))
	for code, label := range v.Labels {
		key := foldKey(label)
		if prev, dup := v.index[key]; dup {
			return fmt.Errorf("labels %q and %q collide", v.Labels[prev], label)
		}
		v.index[key] = code
	}
	return nil
}

// Registry is the authoritative label-to-code mapping of every categorical
// field plus the target. It is immutable once built and safe for concurrent
// reads.
type Registry struct {
	fields map[string]*Vocabulary
}

// NewRegistry assembles a registry from fitted vocabularies
func NewRegistry(vocabs map[string]*Vocabulary) *Registry {
	fields := make(map[string]*Vocabulary, len(vocabs))
	for name, v := range vocabs {
		fields[name] = v
	}
	return &Registry{fields: fields}
}

// Vocabulary returns the vocabulary of a field
func (r *Registry) Vocabulary(field string) (*Vocabulary, bool) {
	v, ok := r.fields[field]
	return v, ok
}

// Fields returns the registered field names in sorted order
func (r *Registry) Fields() []string {
	names := make([]string, 0, len(r.fields))
	for name := range r.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the code of a label and whether it was observed during fitting
func (r *Registry) Lookup(field, label string) (int, bool) {
	v, ok := r.fields[field]
	if !ok {
		return 0, false
	}
	return v.Lookup(label)
}

// Encode returns the code of a label, substituting the field's default code
// for unseen labels. Use NormalizeCategorical to learn whether that happened.
func (r *Registry) Encode(field, label string) int {
	return NormalizeCategorical(r, field, label).Code
}

// Decode returns the label of a code
func (r *Registry) Decode(field string, code int) (string, error) {
	v, ok := r.fields[field]
	if !ok {
		return "", errors.Wrapf(errors.ErrUnknownField, "decode %s", field)
	}
	if code < 0 || code >= len(v.Labels) {
		return "", errors.Wrapf(errors.ErrUnknownCode, "decode %s=%d", field, code)
	}
	return v.Labels[code], nil
}

// MarshalJSON implements json.Marshaler
func (r *Registry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.fields)
}

// UnmarshalJSON implements json.Unmarshaler and rebuilds lookup indexes.
// Inconsistent vocabularies are rejected.
func (r *Registry) UnmarshalJSON(data []byte) error {
	var fields map[string]*Vocabulary
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for name, v := range fields {
		if v == nil {
			return fmt.Errorf("field %s: null vocabulary", name)
		}
		if err := v.buildIndex(); err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
	}
	r.fields = fields
	return nil
}

func copyAliases(aliases map[string]string) map[string]string {
	if len(aliases) == 0 {
		return nil
	}
	out := make(map[string]string, len(aliases))
	for k, v := range aliases {
		out[k] = v
	}
	return out
}
