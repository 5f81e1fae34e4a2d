package pipeline

// Outcome is the terminal state of one submitted image.
type Outcome int

const (
	OutcomeAnswered Outcome = iota
	OutcomeNoStructure
	OutcomeDuplicateImage
	OutcomeDuplicateText
	OutcomeDuplicateMeta
	OutcomeDuplicateContent
	OutcomeDisabled
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAnswered:
		return "answered"
	case OutcomeNoStructure:
		return "no-structure"
	case OutcomeDuplicateImage:
		return "duplicate-image"
	case OutcomeDuplicateText:
		return "duplicate-text"
	case OutcomeDuplicateMeta:
		return "duplicate-meta"
	case OutcomeDuplicateContent:
		return "duplicate-content"
	case OutcomeDisabled:
		return "disabled"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Duplicate reports whether the image was dropped by a dedup gate.
func (o Outcome) Duplicate() bool {
	switch o {
	case OutcomeDuplicateImage, OutcomeDuplicateText, OutcomeDuplicateMeta, OutcomeDuplicateContent:
		return true
	}
	return false
}
