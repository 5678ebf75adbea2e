package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/prepdesk/prepdesk/internal/history"
)

// Subscribe opens the server-sent-events stream delivering a student's most
// recent records whenever any of them changes. onUpdate runs on the reader
// goroutine with each delivered set. The returned release function tears the
// stream down; after release no further deliveries happen.
func (c *Client) Subscribe(ctx context.Context, studentID string, onUpdate func([]history.Record)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	path := c.base + "/students/" + url.PathEscape(studentID) + "/results/stream"
	if c.liveWindow > 0 {
		path += "?limit=" + strconv.Itoa(c.liveWindow)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	res, err := c.stream.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if res.StatusCode/100 != 2 {
		res.Body.Close()
		cancel()
		return nil, fmt.Errorf("subscribe %s: %s", path, res.Status)
	}

	go func() {
		defer res.Body.Close()
		sc := bufio.NewScanner(res.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}
			var ws []wireRecord
			if err := json.Unmarshal([]byte(payload), &ws); err != nil {
				c.log.Warn("undecodable live delivery, skipping", "student", studentID, "err", err)
				continue
			}
			onUpdate(toRecords(ws))
		}
		if err := sc.Err(); err != nil && ctx.Err() == nil {
			c.log.Warn("live stream closed", "student", studentID, "err", err)
		}
	}()
	return cancel, nil
}
