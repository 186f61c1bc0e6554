package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battime/pkg/events"
)

const (
	reconnectMin = time.Second
	reconnectMax = 30 * time.Second
)

// SubscribeEvents streams daemon events until ctx is done. The stream is
// re-established with backoff when the daemon goes away.
func (c *Client) SubscribeEvents(ctx context.Context) <-chan events.Event {
	out := make(chan events.Event, 16)
	go func() {
		defer close(out)
		backoff := reconnectMin
		for {
			err := c.streamEvents(ctx, out)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				logrus.WithError(err).WithField("retryIn", backoff.String()).Debug("event stream ended")
			} else {
				backoff = reconnectMin
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, reconnectMax)
		}
	}()
	return out
}

func (c *Client) streamEvents(ctx context.Context, out chan<- events.Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/events"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("got %d from event stream", resp.StatusCode)
	}

	return readEvents(ctx, resp.Body, out)
}

// readEvents decodes a text/event-stream body. Only the event and data
// fields are used.
func readEvents(ctx context.Context, r io.Reader, out chan<- events.Event) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var name string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if name == "" && len(data) == 0 {
				continue
			}
			ev := events.Event{
				Name: name,
				Data: json.RawMessage(strings.Join(data, "\n")),
				Time: time.Now().Unix(),
			}
			name, data = "", nil
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		case strings.HasPrefix(line, ":"):
			// comment
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}
