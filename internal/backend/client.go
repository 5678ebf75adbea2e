// Package backend is the HTTP client for the upstream content service: the
// question bank, the result store, the profile service, and the history
// push feed.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prepdesk/prepdesk/internal/history"
	"github.com/prepdesk/prepdesk/internal/question"
	"github.com/prepdesk/prepdesk/internal/score"
)

type Client struct {
	base  string
	token string
	http  *http.Client
	// stream has no timeout: the live feed is a long-lived connection,
	// cancelled through its context.
	stream *http.Client
	log    *slog.Logger

	liveWindow int
}

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// LiveWindow caps how many records each stream delivery carries.
	LiveWindow int
}

func New(cfg Config, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		base:       strings.TrimSuffix(cfg.BaseURL, "/"),
		token:      cfg.Token,
		http:       &http.Client{Timeout: cfg.Timeout},
		stream:     &http.Client{},
		log:        log,
		liveWindow: cfg.LiveWindow,
	}
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return fmt.Errorf("%s %s: %s", method, path, res.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

/* ---------------- question.Source ---------------- */

func (c *Client) FetchQuestions(ctx context.Context, subject string, topics []string, count int, mode question.Mode) ([]question.Raw, error) {
	q := url.Values{}
	q.Set("subject", subject)
	if len(topics) > 0 {
		q.Set("topics", strings.Join(topics, ","))
	}
	if count > 0 {
		q.Set("count", strconv.Itoa(count))
	}
	q.Set("mode", string(mode))
	var out []question.Raw
	if err := c.do(ctx, http.MethodGet, "/questions", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FetchCombinedQuestions(ctx context.Context, groups []question.SubjectTopics, count, timeLimitSec int, mode question.Mode) ([]question.Raw, error) {
	subjects := make(map[string][]string, len(groups))
	for _, g := range groups {
		subjects[g.Subject] = g.Topics
	}
	body := struct {
		Subjects     map[string][]string `json:"subjects"`
		Count        int                 `json:"count"`
		TimeLimitSec int                 `json:"time_limit_sec,omitempty"`
		Mode         question.Mode       `json:"mode"`
	}{subjects, count, timeLimitSec, mode}
	var out []question.Raw
	if err := c.do(ctx, http.MethodPost, "/questions/combined", nil, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

/* ---------------- history.SourceClient ---------------- */

// wireRecord is the result-store representation of a test record. The three
// identity fields are populated inconsistently depending on which write path
// produced the record; resolution happens in the history package.
type wireRecord struct {
	ID           string               `json:"id"`
	Subject      string               `json:"subject"`
	Score        int                  `json:"score"`
	TotalTimeSec int                  `json:"total_time_sec"`
	Outcomes     []score.Outcome      `json:"outcomes,omitempty"`
	StudentID    string               `json:"student_id,omitempty"`
	StudentInfo  *history.StudentInfo `json:"student_info,omitempty"`
	StudentRef   *history.StudentRef  `json:"student_ref,omitempty"`
	Timestamp    time.Time            `json:"timestamp"`
}

func (w wireRecord) toRecord() history.Record {
	return history.Record{
		ID:           w.ID,
		Subject:      w.Subject,
		Score:        w.Score,
		TotalTimeSec: w.TotalTimeSec,
		Outcomes:     w.Outcomes,
		OwnerID:      w.StudentID,
		Info:         w.StudentInfo,
		Ref:          w.StudentRef,
		Timestamp:    w.Timestamp,
	}
}

func fromRecord(r history.Record) wireRecord {
	return wireRecord{
		ID:           r.ID,
		Subject:      r.Subject,
		Score:        r.Score,
		TotalTimeSec: r.TotalTimeSec,
		Outcomes:     r.Outcomes,
		StudentID:    r.OwnerID,
		Timestamp:    r.Timestamp,
	}
}

func toRecords(ws []wireRecord) []history.Record {
	out := make([]history.Record, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.toRecord())
	}
	return out
}

func (c *Client) FetchHistory(ctx context.Context, studentID string) ([]history.Record, error) {
	var out []wireRecord
	path := "/students/" + url.PathEscape(studentID) + "/results"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return toRecords(out), nil
}

func (c *Client) SubmitResult(ctx context.Context, rec history.Record) (history.Record, error) {
	var resp struct {
		ID    string `json:"id"`
		Score int    `json:"score"`
	}
	if err := c.do(ctx, http.MethodPost, "/results", nil, fromRecord(rec), &resp); err != nil {
		return history.Record{}, err
	}
	out := rec
	if resp.ID != "" {
		out.ID = resp.ID
	}
	return out, nil
}

func (c *Client) FetchProfile(ctx context.Context, studentID string) (history.Identity, error) {
	var resp struct {
		Name      string `json:"name"`
		StudentID string `json:"student_id"`
	}
	path := "/students/" + url.PathEscape(studentID) + "/profile"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return history.Identity{}, err
	}
	return history.Identity{Name: resp.Name, ID: resp.StudentID, Source: history.SourceProfile}, nil
}
