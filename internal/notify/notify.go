// Package notify delivers rendered reports to their destinations. The
// batch runner only sees the Notifier interface; Slack and stdout
// implementations live here.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"cloud-cost/internal/errors"
)

// Notifier delivers one rendered report to a destination channel
type Notifier interface {
	Notify(ctx context.Context, channel, text string) error
}

// DefaultSlackAPIURL is the chat.postMessage endpoint
const DefaultSlackAPIURL = "https://slack.com/api/chat.postMessage"

// SlackNotifier posts reports to Slack channels
type SlackNotifier struct {
	token  string
	apiURL string
	client *http.Client
}

// NewSlackNotifier creates a Slack notifier. An empty apiURL selects the
// public Slack endpoint.
func NewSlackNotifier(token, apiURL string) *SlackNotifier {
	if apiURL == "" {
		apiURL = DefaultSlackAPIURL
	}
	return &SlackNotifier{
		token:  token,
		apiURL: apiURL,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type slackMessage struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Notify posts the text to the given channel
func (n *SlackNotifier) Notify(ctx context.Context, channel, text string) error {
	if n.token == "" {
		return errors.Config("slack token not configured", nil)
	}

	body, err := json.Marshal(slackMessage{Channel: channel, Text: text})
	if err != nil {
		return errors.Internal("failed to encode slack message", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.apiURL, bytes.NewReader(body))
	if err != nil {
		return errors.Internal("failed to build slack request", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+n.token)

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.ProviderAPI("slack request failed", true, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.ProviderAPI("failed to read slack response", true, err)
	}
	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return errors.ProviderAPI(
			fmt.Sprintf("slack returned status %d", resp.StatusCode), retryable, nil)
	}

	var parsed slackResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return errors.ProviderAPI("failed to decode slack response", false, err)
	}
	if !parsed.OK {
		return errors.ProviderAPI("slack rejected message: "+parsed.Error, false, nil)
	}
	return nil
}

// TextNotifier writes plain-text reports to a writer, stdout by default.
// Chat markup is stripped before writing.
type TextNotifier struct {
	out io.Writer
}

// NewTextNotifier creates a notifier writing to the given writer; nil
// selects stdout
func NewTextNotifier(out io.Writer) *TextNotifier {
	if out == nil {
		out = os.Stdout
	}
	return &TextNotifier{out: out}
}

// Notify writes the report with markup stripped
func (n *TextNotifier) Notify(ctx context.Context, channel, text string) error {
	if _, err := fmt.Fprintln(n.out, StripMarkup(text)); err != nil {
		return errors.Internal("failed to write report", err)
	}
	return nil
}

var markupPattern = regexp.MustCompile(`[*_~]|:[a-z_+-]+:`)

// StripMarkup removes chat formatting and emoji shortcodes from a report
func StripMarkup(text string) string {
	stripped := markupPattern.ReplaceAllString(text, "")
	lines := strings.Split(stripped, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	return strings.Join(lines, "\n")
}

// Fanout delivers to every wrapped notifier, collecting failures
type Fanout []Notifier

// Notify delivers to all destinations; the first failure is returned
// after every destination has been attempted
func (f Fanout) Notify(ctx context.Context, channel, text string) error {
	var firstErr error
	for _, n := range f {
		if err := n.Notify(ctx, channel, text); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
