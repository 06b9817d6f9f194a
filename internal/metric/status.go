package metric

// Status is the canonical ordinal health scale.
type Status int

const (
	StatusUnknown Status = iota
	StatusOK
	StatusWarning
	StatusCritical
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarning:
		return "Warning"
	case StatusCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}

func (s Status) Valid() bool {
	return s >= StatusUnknown && s <= StatusCritical
}
