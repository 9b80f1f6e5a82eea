package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Trial order for DateOrDateTime is behaviorally significant and fixed:
// full datetime first, then bare date (midnight synthesized). Both naive.
const (
	dateTimeLayout = "2006-01-02T15:04:05"
	dateLayout     = "2006-01-02"
)

func (d *DateOrDateTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: date value is not a string", ErrMalformed)
	}
	if t, err := time.Parse(dateTimeLayout, s); err == nil {
		*d = DateOrDateTime{t: t}
		return nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		*d = DateOrDateTime{t: t, dateOnly: true}
		return nil
	}
	return fmt.Errorf("%w: %q is neither datetime nor date", ErrMalformed, s)
}

// flexInt accepts both JSON numbers and numeric strings; the feed uses
// strings for ids and severity scores.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("%w: not an int: %s", ErrMalformed, b)
		}
		n = json.Number(s)
	}
	v, err := n.Int64()
	if err != nil {
		return fmt.Errorf("%w: not an int: %q", ErrMalformed, n.String())
	}
	*f = flexInt(v)
	return nil
}

// stringBool decodes the feed's string-typed booleans. Only "1"/"0",
// "true"/"false" and their capitalized/uppercase spellings are accepted;
// anything else is a hard parse error.
type stringBool bool

func (sb *stringBool) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: boolean value is not a string: %s", ErrMalformed, b)
	}
	switch s {
	case "1", "true", "True", "TRUE":
		*sb = true
	case "0", "false", "False", "FALSE":
		*sb = false
	default:
		return fmt.Errorf("%w: %q is not a boolean", ErrMalformed, s)
	}
	return nil
}

// cdata unwraps the feed's {"#cdata-section": "..."} wrapper. Bare strings
// are accepted too, which keeps fixtures and any future feed cleanup working.
type cdata string

func (c *cdata) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = cdata(s)
		return nil
	}
	var w struct {
		Inner *string `json:"#cdata-section"`
	}
	if err := json.Unmarshal(b, &w); err != nil || w.Inner == nil {
		return fmt.Errorf("%w: expected cdata-wrapped string: %s", ErrMalformed, b)
	}
	*c = cdata(*w.Inner)
	return nil
}

type wireService struct {
	Type            string `json:"ServiceType"`
	TypeDescription string `json:"ServiceTypeDescription"`
	ID              string `json:"ServiceId"`
	Name            string `json:"ServiceName"`
	BackgroundColor string `json:"ServiceBackColor"`
	TextColor       string `json:"ServiceTextColor"`
	URL             cdata  `json:"ServiceURL"`
}

func (w wireService) normalize() (Service, error) {
	st, err := ParseServiceType(w.Type)
	if err != nil {
		return Service{}, err
	}
	return Service{
		Type:            st,
		TypeDescription: w.TypeDescription,
		ID:              w.ID,
		Name:            w.Name,
		BackgroundColor: w.BackgroundColor,
		TextColor:       w.TextColor,
		URL:             string(w.URL),
	}, nil
}

// decodeServiceList resolves the feed's single-vs-list ambiguity: the value
// under "Service" is a bare object when one service is impacted and an array
// otherwise. The result is always a list, order preserved.
func decodeServiceList(raw json.RawMessage) ([]Service, error) {
	var wrapper struct {
		Service json.RawMessage `json:"Service"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil || len(wrapper.Service) == 0 {
		return nil, fmt.Errorf("%w: impacted services missing Service key", ErrMalformed)
	}

	sv := bytes.TrimSpace(wrapper.Service)
	if len(sv) == 0 {
		return nil, fmt.Errorf("%w: impacted services missing Service key", ErrMalformed)
	}
	switch sv[0] {
	case '[':
		var ws []wireService
		if err := json.Unmarshal(sv, &ws); err != nil {
			return nil, fmt.Errorf("%w: impacted services array: %v", ErrMalformed, err)
		}
		out := make([]Service, 0, len(ws))
		for _, w := range ws {
			s, err := w.normalize()
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	case '{':
		var w wireService
		if err := json.Unmarshal(sv, &w); err != nil {
			return nil, fmt.Errorf("%w: impacted service object: %v", ErrMalformed, err)
		}
		s, err := w.normalize()
		if err != nil {
			return nil, err
		}
		return []Service{s}, nil
	default:
		return nil, fmt.Errorf("%w: impacted services is neither object nor array", ErrMalformed)
	}
}

type wireAlert struct {
	ID               flexInt         `json:"AlertId"`
	Headline         string          `json:"Headline"`
	ShortDescription string          `json:"ShortDescription"`
	FullDescription  cdata           `json:"FullDescription"`
	SeverityScore    flexInt         `json:"SeverityScore"`
	SeverityColor    string          `json:"SeverityColor"`
	SeverityCSS      string          `json:"SeverityCSS"`
	Impact           string          `json:"Impact"`
	EventStart       *DateOrDateTime `json:"EventStart"`
	EventEnd         *DateOrDateTime `json:"EventEnd"`
	TBD              stringBool      `json:"TBD"`
	MajorAlert       stringBool      `json:"MajorAlert"`
	AlertURL         cdata           `json:"AlertURL"`
	ImpactedServices json.RawMessage `json:"ImpactedService"`
}

// DecodeAlert validates one raw feed record into an Alert. Pure transform:
// it either yields a complete Alert or an error wrapping ErrMalformed.
func DecodeAlert(raw json.RawMessage) (Alert, error) {
	var w wireAlert
	if err := json.Unmarshal(raw, &w); err != nil {
		if errors.Is(err, ErrMalformed) {
			return Alert{}, err
		}
		return Alert{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.EventStart == nil {
		return Alert{}, fmt.Errorf("%w: alert %d has no EventStart", ErrMalformed, int(w.ID))
	}
	services, err := decodeServiceList(w.ImpactedServices)
	if err != nil {
		return Alert{}, fmt.Errorf("alert %d: %w", int(w.ID), err)
	}
	return Alert{
		ID:               int(w.ID),
		Headline:         w.Headline,
		ShortDescription: w.ShortDescription,
		FullDescription:  string(w.FullDescription),
		SeverityScore:    int(w.SeverityScore),
		SeverityColor:    w.SeverityColor,
		SeverityCSS:      w.SeverityCSS,
		Impact:           w.Impact,
		EventStart:       *w.EventStart,
		EventEnd:         w.EventEnd,
		TBD:              bool(w.TBD),
		MajorAlert:       bool(w.MajorAlert),
		AlertURL:         string(w.AlertURL),
		ImpactedServices: services,
	}, nil
}
