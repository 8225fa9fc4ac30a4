// Package mail sends report notifications through a transactional
// mail HTTP API.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"
)

// Attachment is a file included with a message.
type Attachment struct {
	Filename string
	Content  []byte
}

// Message is a single outbound mail.
type Message struct {
	To         []string
	Subject    string
	Text       string
	Attachment *Attachment
}

// APIError is a non-2xx response from the mail provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mail api returned status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the provider's message endpoint.
type Client struct {
	baseURL string
	apiKey  string
	from    string
	httpc   *http.Client
	logger  *slog.Logger
}

// New creates a Client for the given API base URL and sender address.
func New(baseURL, apiKey, from string, logger *slog.Logger) *Client {
	return NewWithHTTPClient(baseURL, apiKey, from, &http.Client{Timeout: 30 * time.Second}, logger)
}

// NewWithHTTPClient is New with a caller-supplied http.Client.
func NewWithHTTPClient(baseURL, apiKey, from string, httpc *http.Client, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		from:    from,
		httpc:   httpc,
		logger:  logger.With(slog.String("component", "mail")),
	}
}

// Send submits the message and returns the provider's message id.
func (c *Client) Send(ctx context.Context, msg Message) (string, error) {
	if len(msg.To) == 0 {
		return "", fmt.Errorf("message has no recipients")
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := writeMessage(w, c.from, msg); err != nil {
		return "", fmt.Errorf("encoding message: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("encoding message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", &body)
	if err != nil {
		return "", fmt.Errorf("creating mail request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.SetBasicAuth("api", c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending mail: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("reading mail response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(respBody))}
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decoding mail response: %w", err)
	}

	c.logger.Debug("mail accepted",
		slog.String("message_id", parsed.ID),
		slog.Int("recipients", len(msg.To)),
	)
	return parsed.ID, nil
}

func writeMessage(w *multipart.Writer, from string, msg Message) error {
	if err := w.WriteField("from", from); err != nil {
		return err
	}
	for _, to := range msg.To {
		if err := w.WriteField("to", to); err != nil {
			return err
		}
	}
	if err := w.WriteField("subject", msg.Subject); err != nil {
		return err
	}
	if err := w.WriteField("text", msg.Text); err != nil {
		return err
	}
	if msg.Attachment != nil {
		part, err := w.CreateFormFile("attachment", msg.Attachment.Filename)
		if err != nil {
			return err
		}
		if _, err := part.Write(msg.Attachment.Content); err != nil {
			return err
		}
	}
	return nil
}
