package parser

// Status says how a parsed value was obtained.
type Status int

const (
	// Found means the value was present and parsed.
	Found Status = iota
	// Absent means the input did not contain the value at all.
	Absent
	// Invalid means the value was present but could not be parsed.
	Invalid
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case Absent:
		return "absent"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Result carries a parsed value together with its Status. Value holds the
// sentinel (domain.Unknown or 0) whenever Status is not Found.
type Result[T any] struct {
	Value  T
	Status Status
	Err    error
}

// OK reports whether the value was found and parsed.
func (r Result[T]) OK() bool {
	return r.Status == Found
}
