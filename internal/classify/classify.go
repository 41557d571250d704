// Package classify batches message summaries to an external spam
// classifier and maps the answers back by correlation id.
package classify

import (
	"context"
	"strings"
)

// Label is a classifier verdict.
type Label string

// Labels the pipeline acts on. Any other verdict files as inbox.
const (
	LabelInbox Label = "inbox"
	LabelSpam  Label = "spam"
)

// ParseLabel maps a raw classifier answer to a Label. Anything other than
// "spam" files the message in the inbox.
func ParseLabel(s string) Label {
	if strings.EqualFold(strings.TrimSpace(s), string(LabelSpam)) {
		return LabelSpam
	}
	return LabelInbox
}

// LabelOf returns the label for id, defaulting to the inbox when the
// classifier gave none.
func LabelOf(labels map[string]Label, id string) Label {
	if l, ok := labels[id]; ok {
		return l
	}
	return LabelInbox
}

// Item is one message offered for classification.
type Item struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Profile is the account owner's preference profile.
type Profile struct {
	Job       string   `json:"job"`
	Usage     string   `json:"usage"`
	Interests []string `json:"interests"`
}

// Classifier is the transport to a classification service. It returns the
// raw label per item id; ids may be missing.
type Classifier interface {
	Classify(ctx context.Context, items []Item, profile Profile) (map[string]string, error)
}

// Observer receives the outcome of every classifier attempt.
type Observer interface {
	ClassifierCall(seconds float64, err error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, items []Item, profile Profile) (map[string]string, error)

func (f ClassifierFunc) Classify(ctx context.Context, items []Item, profile Profile) (map[string]string, error) {
	return f(ctx, items, profile)
}
