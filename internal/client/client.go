package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"filedrop/internal/drop"
	"filedrop/internal/server"
)

const (
	httpTimeout = 5 * time.Minute
	writeWait   = 10 * time.Second
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Is lets callers match API errors against the drop sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case drop.ErrFileNotFound:
		return e.Status == http.StatusNotFound
	case drop.ErrCapacityExceeded:
		return e.Status == http.StatusBadRequest && e.Message == drop.ErrCapacityExceeded.Error()
	case drop.ErrSessionExpired:
		return e.Status == http.StatusServiceUnavailable
	}
	return false
}

// FileInfo describes a downloaded file.
type FileInfo struct {
	ContentType  string
	ETag         string
	Size         int64
	LastModified time.Time
}

// Client talks to a filedrop server over HTTP and WebSocket.
type Client struct {
	baseURL string
	user    string
	http    *http.Client
	dialer  *websocket.Dialer
}

// New creates a Client for the server at baseURL acting as user. An empty
// user is sent as the server's default.
func New(baseURL, user string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		user:    user,
		http:    &http.Client{Timeout: httpTimeout},
		dialer:  websocket.DefaultDialer,
	}
}

// CreateSession asks the server for a fresh session id.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/sessions", nil)
	if err != nil {
		return "", err
	}
	var out struct {
		Session string `json:"session"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	return out.Session, nil
}

// Upload stores everything read from r as fileID in session.
func (c *Client) Upload(ctx context.Context, session, fileID string, r io.Reader, contentType string, encrypted bool) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.fileURL(session, fileID), r)
	if err != nil {
		return "", err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if encrypted {
		req.Header.Set(server.HeaderEncrypted, "true")
	}
	c.setUser(req)

	var out struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return "", fmt.Errorf("uploading %s: %w", fileID, err)
	}
	return out.ID, nil
}

// Download writes the bytes of fileID in session to w.
func (c *Client) Download(ctx context.Context, session, fileID string, w io.Writer) (FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileURL(session, fileID), nil)
	if err != nil {
		return FileInfo{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return FileInfo{}, fmt.Errorf("downloading %s: %w", fileID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return FileInfo{}, fmt.Errorf("downloading %s: %w", fileID, readAPIError(resp))
	}

	info := FileInfo{
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        resp.Header.Get("ETag"),
	}
	if lm, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		info.LastModified = lm
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return FileInfo{}, fmt.Errorf("reading %s: %w", fileID, err)
	}
	info.Size = n
	return info, nil
}

// Delete removes fileID from session.
func (c *Client) Delete(ctx context.Context, session, fileID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.fileURL(session, fileID), nil)
	if err != nil {
		return err
	}
	c.setUser(req)
	if err := c.doJSON(req, nil); err != nil {
		return fmt.Errorf("deleting %s: %w", fileID, err)
	}
	return nil
}

// Dial opens the session's live channel. The returned Feed has not joined yet.
func (c *Client) Dial(ctx context.Context, session string) (*Feed, error) {
	wsURL, err := websocketURL(c.baseURL)
	if err != nil {
		return nil, err
	}
	ws, _, err := c.dialer.DialContext(ctx, wsURL+"/api/sessions/"+url.PathEscape(session)+"/websocket", nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to session %s: %w", session, err)
	}
	return &Feed{ws: ws}, nil
}

func (c *Client) fileURL(session, fileID string) string {
	return c.baseURL + "/api/sessions/" + url.PathEscape(session) + "/files/" + url.PathEscape(fileID)
}

func (c *Client) setUser(req *http.Request) {
	if c.user != "" {
		req.Header.Set(server.HeaderSessionName, c.user)
	}
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func readAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: "request failed"}
	data, err := io.ReadAll(resp.Body)
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var parsed map[string]string
	if err := json.Unmarshal(data, &parsed); err == nil {
		if msg, ok := parsed["error"]; ok {
			apiErr.Message = msg
			return apiErr
		}
	}
	apiErr.Message = strings.TrimSpace(string(data))
	return apiErr
}

func websocketURL(base string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %s", parsed.Scheme)
	}
	return strings.TrimRight(parsed.String(), "/"), nil
}

// Feed is a session's live channel. Next may be called from one goroutine
// while Join and Say are called from another.
type Feed struct {
	mu sync.Mutex
	ws *websocket.Conn
}

// Join announces the participant under name.
func (f *Feed) Join(name string) error {
	return f.write(drop.ClientFrame{Name: &name})
}

// Say sends a chat message. The feed must have joined.
func (f *Feed) Say(text string) error {
	return f.write(drop.ClientFrame{Action: drop.ActionMessage, Message: text})
}

// Next blocks for the next frame from the server. A close from the server is
// returned as a *websocket.CloseError.
func (f *Feed) Next() (drop.ServerFrame, error) {
	var frame drop.ServerFrame
	_, payload, err := f.ws.ReadMessage()
	if err != nil {
		return frame, err
	}
	if err := json.Unmarshal(payload, &frame); err != nil {
		return frame, fmt.Errorf("decoding frame: %w", err)
	}
	return frame, nil
}

// Close ends the channel with a normal closure.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = f.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return f.ws.Close()
}

func (f *Feed) write(frame drop.ClientFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return f.ws.WriteMessage(websocket.TextMessage, payload)
}

// CloseReason extracts the server's reason from a channel close, if any.
func CloseReason(err error) (int, string, bool) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code, closeErr.Text, true
	}
	return 0, "", false
}
