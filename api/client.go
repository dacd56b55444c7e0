package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"taskforge-sync/domain"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	defaultTimeout       = 15 * time.Second
	maxErrorBody         = 4 << 10
)

// Error is returned for non-2xx responses.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Message)
}

// UserMessage is the message the server wants shown to the user.
func (e *Error) UserMessage() string {
	return e.Message
}

// IsConflict reports whether err is a 409 from the server.
func IsConflict(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// Client talks to the board REST API.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

func New(baseURL, bearer string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Bearer:  bearer,
		HTTP:    &http.Client{Timeout: defaultTimeout},
	}
}

// FetchBoard loads the full state of a board.
func (c *Client) FetchBoard(ctx context.Context, boardID string) (domain.BoardState, error) {
	var board domain.BoardState
	if err := c.do(ctx, http.MethodGet, "/boards/"+url.PathEscape(boardID), nil, nil, &board); err != nil {
		return domain.BoardState{}, err
	}
	if board.ID == "" {
		board.ID = boardID
	}
	return board, nil
}

// MoveCard asks the server to commit a move. Every call carries a fresh
// idempotency key.
func (c *Client) MoveCard(ctx context.Context, boardID, cardID string, req domain.MoveRequest) error {
	path := fmt.Sprintf("/boards/%s/cards/%s/move", url.PathEscape(boardID), url.PathEscape(cardID))
	header := http.Header{}
	header.Set(HeaderIdempotencyKey, uuid.NewString())
	return c.do(ctx, http.MethodPatch, path, req, header, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, header http.Header, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &Error{StatusCode: resp.StatusCode}
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := sonic.Unmarshal(data, &body); err == nil {
		apiErr.Message = body.Message
		if apiErr.Message == "" {
			apiErr.Message = body.Error
		}
	}
	return apiErr
}
