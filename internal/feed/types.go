package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformed marks feed records that could not be validated into an Alert.
// Decode failures wrap it so callers can match with errors.Is.
var ErrMalformed = errors.New("malformed alert")

// Alert is one customer-alert record, normalized from the feed's wire shape.
// Instances are rebuilt every poll cycle and never mutated.
type Alert struct {
	ID               int
	Headline         string
	ShortDescription string
	FullDescription  string
	SeverityScore    int
	SeverityColor    string
	SeverityCSS      string
	Impact           string
	EventStart       DateOrDateTime
	// EventEnd is nil for open-ended alerts. When TBD is set the feed may
	// still populate this with a default/garbage value; renderers must show
	// "TBD" instead.
	EventEnd         *DateOrDateTime
	TBD              bool
	MajorAlert       bool
	AlertURL         string
	ImpactedServices []Service
}

// Service is one affected route/station reference.
type Service struct {
	Type            ServiceType
	TypeDescription string
	ID              string
	Name            string
	BackgroundColor string
	TextColor       string
	URL             string
}

// ServiceType classifies what a Service refers to. The feed encodes it as a
// single-letter code.
type ServiceType int

const (
	SystemWide ServiceType = iota
	TrainRoute
	BusRoute
	TrainStation
)

func ParseServiceType(code string) (ServiceType, error) {
	switch code {
	case "X":
		return SystemWide, nil
	case "R":
		return TrainRoute, nil
	case "B":
		return BusRoute, nil
	case "T":
		return TrainStation, nil
	default:
		return 0, fmt.Errorf("%w: unknown service type %q", ErrMalformed, code)
	}
}

func (t ServiceType) String() string {
	switch t {
	case SystemWide:
		return "X"
	case TrainRoute:
		return "R"
	case BusRoute:
		return "B"
	case TrainStation:
		return "T"
	default:
		return "?"
	}
}

// MarshalJSON writes the single-letter feed code, matching how services are
// persisted and compared.
func (t ServiceType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *ServiceType) UnmarshalJSON(b []byte) error {
	var code string
	if err := json.Unmarshal(b, &code); err != nil {
		return fmt.Errorf("%w: service type: %v", ErrMalformed, err)
	}
	st, err := ParseServiceType(code)
	if err != nil {
		return err
	}
	*t = st
	return nil
}

// DateOrDateTime holds a naive feed timestamp that arrives either as a full
// datetime or as a bare calendar date (meaning start-of-day). The feed's
// wall-clock values carry no zone; they are implicitly transit-system local
// time and are kept as-is.
type DateOrDateTime struct {
	t        time.Time
	dateOnly bool
}

func NewDateTime(t time.Time) DateOrDateTime { return DateOrDateTime{t: t} }
func NewDate(t time.Time) DateOrDateTime {
	y, m, d := t.Date()
	return DateOrDateTime{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), dateOnly: true}
}

// Time returns the resolved instant; for date-only values this is midnight.
func (d DateOrDateTime) Time() time.Time { return d.t }

// DateOnly reports whether the feed supplied only a calendar date.
func (d DateOrDateTime) DateOnly() bool { return d.dateOnly }

func (d DateOrDateTime) String() string {
	if d.dateOnly {
		return d.t.Format(dateLayout)
	}
	return d.t.Format(dateTimeLayout)
}
