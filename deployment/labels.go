package deployment

import (
	"encoding/json"
	"sort"
	"strings"
)

// LabelSet represents a set of labels on a ledger entry.
type LabelSet map[string]struct{}

// NewLabelSet initializes a new LabelSet with any number of labels.
func NewLabelSet(labels ...string) LabelSet {
	set := make(LabelSet)
	for _, lb := range labels {
		set[lb] = struct{}{}
	}
	return set
}

func (ls LabelSet) Add(label string) {
	ls[label] = struct{}{}
}

// String returns the labels as a sorted, space-separated string.
func (ls LabelSet) String() string {
	return strings.Join(ls.List(), " ")
}

// List returns the labels as a sorted slice of strings.
func (ls LabelSet) List() []string {
	if len(ls) == 0 {
		return []string{}
	}
	labels := make([]string, 0, len(ls))
	for label := range ls {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// MarshalJSON writes the set as a sorted array so ledger files diff cleanly.
func (ls LabelSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(ls.List())
}

func (ls *LabelSet) UnmarshalJSON(b []byte) error {
	var labels []string
	if err := json.Unmarshal(b, &labels); err != nil {
		return err
	}
	*ls = NewLabelSet(labels...)
	return nil
}
