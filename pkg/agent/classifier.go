package agent

import "strings"

// CompletionClassifier decides whether captured output shows the agent
// waiting on the user.
type CompletionClassifier interface {
	IsComplete(output string) bool
}

// DefaultCompletionMarkers are lower-case phrases the agent prints when it
// stops to ask for approval or signs off.
var DefaultCompletionMarkers = []string{
	"would you like to proceed",
	"ready to execute",
	"ready to implement",
	"yes, clear context and bypass",
	"yes, and bypass permissions",
	"yes, manually approve",
	"should i proceed",
	"would you like me to",
	"do you want me to",
	"let me know if",
	"waiting for approval",
	"plan complete",
}

// MarkerClassifier matches marker phrases anywhere in the output,
// case-insensitively. Quoted or echoed markers match too.
type MarkerClassifier struct {
	markers []string
}

// NewMarkerClassifier returns a classifier for markers, or for
// DefaultCompletionMarkers when none are given.
func NewMarkerClassifier(markers ...string) *MarkerClassifier {
	if len(markers) == 0 {
		markers = DefaultCompletionMarkers
	}
	lowered := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			lowered = append(lowered, m)
		}
	}
	return &MarkerClassifier{markers: lowered}
}

func (c *MarkerClassifier) IsComplete(output string) bool {
	_, ok := c.Match(output)
	return ok
}

// Match returns the first marker found in output.
func (c *MarkerClassifier) Match(output string) (string, bool) {
	lower := strings.ToLower(output)
	for _, m := range c.markers {
		if strings.Contains(lower, m) {
			return m, true
		}
	}
	return "", false
}
