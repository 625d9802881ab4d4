// Package subscriptions builds the context broker subscriptions that feed
// the downstream time series consumer.
package subscriptions

import (
	"fmt"
	"strings"
)

type EntityMatcher struct {
	IDPattern string `json:"idPattern"`
	Type      string `json:"type"`
}

type Condition struct {
	Attrs []string `json:"attrs"`
}

type Subject struct {
	Entities  []EntityMatcher `json:"entities"`
	Condition Condition       `json:"condition"`
}

type HTTPTarget struct {
	URL string `json:"url"`
}

type CustomHTTPTarget struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

type Notification struct {
	Attrs       []string          `json:"attrs,omitempty"`
	ExceptAttrs []string          `json:"exceptAttrs,omitempty"`
	HTTP        *HTTPTarget       `json:"http,omitempty"`
	HTTPCustom  *CustomHTTPTarget `json:"httpCustom,omitempty"`
	Metadata    []string          `json:"metadata,omitempty"`
}

type Subscription struct {
	ID           string       `json:"id,omitempty"`
	Description  string       `json:"description"`
	Subject      Subject      `json:"subject"`
	Notification Notification `json:"notification"`
	Expires      string       `json:"expires"`
	Status       string       `json:"status"`
}

// Target is where change notifications are delivered. A non-empty
// PlatformKey switches the notification to a custom http target carrying
// the key as a header.
type Target struct {
	URL         string
	PlatformKey string
}

func notification(target Target) Notification {
	n := Notification{
		Metadata: []string{"dateModified", "timestamp"},
	}

	if target.PlatformKey != "" {
		n.HTTPCustom = &CustomHTTPTarget{
			URL:     target.URL,
			Headers: map[string]string{"platform-key": target.PlatformKey},
		}
	} else {
		n.HTTP = &HTTPTarget{URL: target.URL}
	}

	return n
}

// New returns a subscription that fires on any change to one of the
// inputAttributes of the given entity type. With reverseOutput unset the
// notification carries only outputAttributes; with it set the notification
// carries everything except outputAttributes.
func New(entityType string, inputAttributes, outputAttributes []string, reverseOutput bool, target Target) Subscription {
	n := notification(target)
	if reverseOutput {
		n.ExceptAttrs = outputAttributes
	} else {
		n.Attrs = outputAttributes
	}

	return Subscription{
		Description: fmt.Sprintf("Subscription for attributes %s for entity type %s.",
			strings.Join(inputAttributes, "_"), entityType),
		Subject: Subject{
			Entities:  []EntityMatcher{{IDPattern: ".*", Type: entityType}},
			Condition: Condition{Attrs: inputAttributes},
		},
		Notification: n,
		Expires:      "2050-12-31T23:59:59.00Z",
		Status:       "active",
	}
}

// ForSchema returns the subscription set for one entity type: a single
// subscription covering the static attribute group (notifying everything
// except the dynamic attributes) and one per dynamic attribute group
// (notifying only that group).
func ForSchema(entityType string, staticAttributes []string, dynamicGroups [][]string, target Target) []Subscription {
	dynamicFlat := []string{}
	for _, group := range dynamicGroups {
		dynamicFlat = append(dynamicFlat, group...)
	}

	subs := make([]Subscription, 0, len(dynamicGroups)+1)
	subs = append(subs, New(entityType, staticAttributes, dynamicFlat, true, target))

	for _, group := range dynamicGroups {
		subs = append(subs, New(entityType, group, group, false, target))
	}

	return subs
}
