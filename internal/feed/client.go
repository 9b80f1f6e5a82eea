package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	logx "ctawatch/pkg/logx"
)

const defaultBaseURL = "https://www.transitchicago.com/api/1.0/alerts.aspx"

// Error codes the feed uses for "no active alerts match the filter".
// These yield an empty batch, not an error.
const (
	codeNoPlanned = 25
	codeNoAlerts  = 50
)

type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Options are the operator-configured fetch filter parameters.
type Options struct {
	RouteIDs      []string
	ActiveOnly    bool
	Accessibility bool
	Planned       bool
	ByStartDate   *time.Time
	RecentDays    int
}

// Client fetches and normalizes customer alerts.
//
// The HTTP timeout is a hard bound: a stalled feed endpoint must never stall
// the poll scheduler.
type Client struct {
	baseURL string
	http    *http.Client
	log     logx.Logger
}

func NewClient(cfg ClientConfig, log logx.Logger) *Client {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type envelope struct {
	Alerts struct {
		Timestamp    string          `json:"TimeStamp"`
		ErrorCode    flexInt         `json:"ErrorCode"`
		ErrorMessage *string         `json:"ErrorMessage"`
		Alert        json.RawMessage `json:"Alert"`
	} `json:"CTAAlerts"`
}

// Active fetches the current alert batch. Individually malformed records are
// quarantined (logged and skipped) so one bad record cannot sink its
// siblings; an undecodable envelope fails the whole fetch.
func (c *Client) Active(ctx context.Context, opt Options) ([]Alert, error) {
	u, err := c.buildURL(opt)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch alerts: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch alerts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("fetch alerts: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("fetch alerts: read body: %w", err)
	}

	return c.decodeBatch(body)
}

func (c *Client) buildURL(opt Options) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("fetch alerts: bad base url: %w", err)
	}
	q := u.Query()
	q.Set("outputType", "JSON")
	q.Set("activeonly", boolParam(opt.ActiveOnly))
	q.Set("accessibility", boolParam(opt.Accessibility))
	q.Set("planned", boolParam(opt.Planned))
	if len(opt.RouteIDs) > 0 {
		q.Set("routeid", strings.Join(opt.RouteIDs, ","))
	}
	if opt.ByStartDate != nil {
		q.Set("bystartdate", opt.ByStartDate.Format(dateLayout))
	}
	if opt.RecentDays > 0 {
		q.Set("recentdays", strconv.Itoa(opt.RecentDays))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func boolParam(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func (c *Client) decodeBatch(body []byte) ([]Alert, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("fetch alerts: decode envelope: %w", err)
	}

	raws, err := splitAlertRecords(env.Alerts.Alert)
	if err != nil {
		return nil, err
	}
	if raws == nil {
		switch int(env.Alerts.ErrorCode) {
		case codeNoPlanned, codeNoAlerts:
			return nil, nil
		}
		msg := ""
		if env.Alerts.ErrorMessage != nil {
			msg = *env.Alerts.ErrorMessage
		}
		return nil, fmt.Errorf("fetch alerts: feed error %d: %s", int(env.Alerts.ErrorCode), msg)
	}

	out := make([]Alert, 0, len(raws))
	for _, raw := range raws {
		a, err := DecodeAlert(raw)
		if err != nil {
			// Quarantine: one bad record must not abort the batch.
			c.log.Warn("skipping malformed alert record", logx.Err(err))
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// splitAlertRecords tolerates the feed's single-vs-list quirk at the batch
// level too: "Alert" may be an array, a single object, or absent.
func splitAlertRecords(raw json.RawMessage) ([]json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}
	switch trimmed[0] {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("fetch alerts: decode alert list: %w", err)
		}
		return list, nil
	case '{':
		return []json.RawMessage{trimmed}, nil
	default:
		return nil, fmt.Errorf("fetch alerts: alert list is neither object nor array")
	}
}
