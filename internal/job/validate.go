package job

import "strings"

// Validate checks the fields every worker invocation needs.
// The ticker is optional here; the HTTP service requires it separately.
func (d Descriptor) Validate() error {
	return d.validate(-1, false)
}

// ValidateSubmission applies the stricter rules of the job service,
// where the ticker is mandatory.
func (d Descriptor) ValidateSubmission() error {
	return d.validate(-1, true)
}

// ValidateAt is Validate with the batch position recorded on failure.
func (d Descriptor) ValidateAt(index int) error {
	return d.validate(index, false)
}

func (d Descriptor) validate(index int, requireTicker bool) error {
	if requireTicker && strings.TrimSpace(d.Ticker) == "" {
		return &ValidationError{Index: index, Field: "ticker", Reason: "is required"}
	}
	if strings.TrimSpace(d.Topic) == "" {
		return &ValidationError{Index: index, Field: "topic", Reason: "is required"}
	}
	if strings.TrimSpace(d.Goal) == "" {
		return &ValidationError{Index: index, Field: "goal", Reason: "is required"}
	}
	if len(d.Sources) == 0 {
		return &ValidationError{Index: index, Field: "sources", Reason: "must be a non-empty array"}
	}
	for _, s := range d.Sources {
		if strings.TrimSpace(s) == "" {
			return &ValidationError{Index: index, Field: "sources", Reason: "must not contain blank entries"}
		}
	}
	return nil
}
