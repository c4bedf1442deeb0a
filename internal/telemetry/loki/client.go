// Package loki pushes gate event lines to Grafana Loki.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultJob is the job label on every stream.
const DefaultJob = "kallied-admin"

// PushRequest is the Loki push API request body (v1).
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is a single stream with labels and log entries.
type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // each entry is [timestamp_ns, log_line]
}

// labelSanitize replaces characters we avoid in label values.
var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:]`)

// eventFields are the gate event fields promoted to labels. The operator and challenge stay in
// the line to keep stream cardinality low.
type eventFields struct {
	Type string    `json:"type"`
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
}

// Client pushes to one Loki instance.
type Client struct {
	baseURL string
	job     string
	http    *http.Client
}

// NewClient returns a client for baseURL (e.g. http://localhost:3100).
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("loki: base URL is empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, job: DefaultJob, http: &http.Client{Timeout: timeout}}, nil
}

// PushEventJSON pushes a gate event JSON (a Kafka message value) with labels and timestamp taken
// from the event. If parsing fails, the raw line is pushed with the current time.
func (c *Client) PushEventJSON(ctx context.Context, rawJSON []byte) error {
	labels := map[string]string{}
	ts := time.Now().UTC()
	var fields eventFields
	if err := json.Unmarshal(rawJSON, &fields); err == nil {
		if fields.Type != "" {
			labels["event_type"] = fields.Type
		}
		if fields.Kind != "" {
			labels["action"] = fields.Kind
		}
		if !fields.At.IsZero() {
			ts = fields.At
		}
	}
	return c.PushEvent(ctx, ts, string(rawJSON), labels)
}

// PushEvent sends a single log line. Returns an error if the request fails or Loki returns non-2xx.
func (c *Client) PushEvent(ctx context.Context, timestamp time.Time, line string, labels map[string]string) error {
	streamLabels := make(map[string]string, len(labels)+1)
	streamLabels["job"] = c.job
	for k, v := range labels {
		sanitized := labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_")
		if sanitized != "" {
			streamLabels[k] = sanitized
		}
	}
	body := PushRequest{
		Streams: []Stream{{
			Stream: streamLabels,
			Values: [][]string{{strconv.FormatInt(timestamp.UnixNano(), 10), line}},
		}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/loki/api/v1/push", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}
