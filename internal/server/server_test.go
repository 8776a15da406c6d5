package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"filedrop/internal/blob"
	"filedrop/internal/database"
	"filedrop/internal/drop"
	"filedrop/internal/server"
	"filedrop/internal/testutil"
)

type testServer struct {
	url   string
	hub   *drop.Hub
	blobs *blob.MemoryStore
	store *database.MemoryStore
	timer *testutil.ManualTimer
}

func newTestServer(t *testing.T, opts server.Options) *testServer {
	t.Helper()
	ts := &testServer{
		blobs: testutil.NewTestBlobStore(),
		store: database.NewMemoryStore(),
		timer: testutil.NewManualTimer(),
	}
	ts.hub = drop.NewHub(ts.blobs, ts.store, ts.timer, drop.NewNopLogger(),
		testutil.FixedClock(), drop.UUIDGenerator{}, drop.Options{Expiry: time.Hour})
	ts.timer.OnFire(ts.hub.Expire)

	srv := httptest.NewServer(server.New(ts.hub, drop.NewNopLogger(), opts).Handler())
	t.Cleanup(srv.Close)
	ts.url = srv.URL
	return ts
}

func (ts *testServer) fileURL(session, id string) string {
	return ts.url + "/api/sessions/" + session + "/files/" + id
}

func (ts *testServer) do(t *testing.T, method, url string, body io.Reader, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	return resp, data
}

func (ts *testServer) upload(t *testing.T, session, id, body, user string) {
	t.Helper()
	resp, data := ts.do(t, http.MethodPost, ts.fileURL(session, id), strings.NewReader(body), map[string]string{
		"Content-Type":           "application/pdf",
		server.HeaderSessionName: user,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload %s status = %d, body = %s", id, resp.StatusCode, data)
	}
}

func (ts *testServer) dial(t *testing.T, session string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.url, "http") + "/api/sessions/" + session + "/websocket"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func join(t *testing.T, ws *websocket.Conn, name string) {
	t.Helper()
	if err := ws.WriteJSON(map[string]string{"name": name}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
}

func readFrame(t *testing.T, ws *websocket.Conn) drop.ServerFrame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var frame drop.ServerFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decoding frame %s: %v", data, err)
	}
	return frame
}

func expectEvent(t *testing.T, ws *websocket.Conn, kind drop.EventKind, user string) drop.ServerFrame {
	t.Helper()
	frame := readFrame(t, ws)
	if frame.Kind != kind || frame.User != user {
		t.Fatalf("frame = %s/%s, want %s/%s", frame.Kind, frame.User, kind, user)
	}
	return frame
}

func TestCreateSession(t *testing.T) {
	ts := newTestServer(t, server.Options{})

	resp, data := ts.do(t, http.MethodPost, ts.url+"/api/sessions", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Session string `json:"session"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decoding %s: %v", data, err)
	}
	if len(body.Session) != drop.SessionTokenLength {
		t.Errorf("session = %q, want %d characters", body.Session, drop.SessionTokenLength)
	}
}

func TestRoutes(t *testing.T) {
	ts := newTestServer(t, server.Options{})

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"root notice", http.MethodGet, "/", http.StatusServiceUnavailable},
		{"session page notice", http.MethodGet, "/ab12cd34", http.StatusServiceUnavailable},
		{"unknown api route", http.MethodGet, "/api/other", http.StatusNotFound},
		{"unknown session route", http.MethodGet, "/api/sessions/ab12cd34/status", http.StatusNotFound},
		{"empty file id", http.MethodGet, "/api/sessions/ab12cd34/files/", http.StatusNotFound},
		{"unsupported method", http.MethodPut, "/api/sessions/ab12cd34/files/a.txt", http.StatusNotFound},
		{"list sessions", http.MethodGet, "/api/sessions", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := ts.do(t, tt.method, ts.url+tt.path, nil, nil)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
		})
	}
}

func TestUploadDownloadDelete(t *testing.T) {
	ts := newTestServer(t, server.Options{})
	content := "%PDF-1.7 quarterly numbers"

	resp, data := ts.do(t, http.MethodPost, ts.fileURL("ab12cd34", "report.pdf"), strings.NewReader(content), map[string]string{
		"Content-Type":           "application/pdf",
		server.HeaderEncrypted:   "true",
		server.HeaderSessionName: "Alice",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d, body = %s", resp.StatusCode, data)
	}
	if got := strings.TrimSpace(string(data)); got != `{"id":"report.pdf"}` {
		t.Errorf("upload body = %s", got)
	}

	files, err := ts.hub.Lookup("ab12cd34").Files(context.Background())
	if err != nil {
		t.Fatalf("Files() error = %v", err)
	}
	if f := files["report.pdf"]; !f.Encrypted || f.Size != int64(len(content)) || f.Type != "application/pdf" {
		t.Errorf("indexed file = %+v", f)
	}

	resp, data = ts.do(t, http.MethodGet, ts.fileURL("ab12cd34", "report.pdf"), nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d", resp.StatusCode)
	}
	if string(data) != content {
		t.Errorf("download body = %q, want %q", data, content)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q", ct)
	}
	if etag := resp.Header.Get("ETag"); etag != `"`+testutil.SHA256Hex([]byte(content))+`"` {
		t.Errorf("ETag = %q", etag)
	}
	if resp.Header.Get("Last-Modified") == "" {
		t.Error("Last-Modified header missing")
	}
	if resp.ContentLength != int64(len(content)) {
		t.Errorf("Content-Length = %d, want %d", resp.ContentLength, len(content))
	}

	resp, data = ts.do(t, http.MethodDelete, ts.fileURL("ab12cd34", "report.pdf"), nil, map[string]string{
		server.HeaderSessionName: "Alice",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if got := strings.TrimSpace(string(data)); got != `{"message":"File Deleted"}` {
		t.Errorf("delete body = %s", got)
	}

	resp, _ = ts.do(t, http.MethodGet, ts.fileURL("ab12cd34", "report.pdf"), nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("download after delete status = %d, want 404", resp.StatusCode)
	}
	if ts.blobs.Len() != 0 {
		t.Errorf("blobs left = %d, want 0", ts.blobs.Len())
	}
}

func TestDeleteMissingFile(t *testing.T) {
	ts := newTestServer(t, server.Options{})

	resp, _ := ts.do(t, http.MethodDelete, ts.fileURL("ab12cd34", "nope.txt"), nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestUploadCapacity(t *testing.T) {
	ts := newTestServer(t, server.Options{})

	for i := range drop.MaxFiles {
		ts.upload(t, "full", "file-"+string(rune('a'+i)), "x", "Alice")
	}
	resp, data := ts.do(t, http.MethodPost, ts.fileURL("full", "one-more"), strings.NewReader("x"), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if !strings.Contains(string(data), drop.ErrCapacityExceeded.Error()) {
		t.Errorf("body = %s", data)
	}
}

func TestUploadTooLarge(t *testing.T) {
	ts := newTestServer(t, server.Options{MaxUploadSize: 8})

	resp, _ := ts.do(t, http.MethodPost, ts.fileURL("small", "big.bin"), strings.NewReader("0123456789"), nil)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", resp.StatusCode)
	}

	// Without a declared length the limit is enforced while reading.
	body := io.MultiReader(strings.NewReader("0123"), strings.NewReader("456789"))
	resp, _ = ts.do(t, http.MethodPost, ts.fileURL("small", "big.bin"), body, nil)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("streamed status = %d, want 413", resp.StatusCode)
	}

	files, err := ts.hub.Lookup("small").Files(context.Background())
	if err != nil {
		t.Fatalf("Files() error = %v", err)
	}
	if len(files) != 0 {
		t.Errorf("files = %v, want none", files)
	}
}

func TestDirectAddressSharesState(t *testing.T) {
	ts := newTestServer(t, server.Options{})
	ts.upload(t, "ab12cd34", "shared.txt", "hello", "Alice")

	direct := drop.ResolveInstance("ab12cd34")
	resp, data := ts.do(t, http.MethodGet, ts.fileURL(direct, "shared.txt"), nil, nil)
	if resp.StatusCode != http.StatusOK || string(data) != "hello" {
		t.Errorf("direct download = %d %q", resp.StatusCode, data)
	}
}

func TestExpiredSessionStartsFresh(t *testing.T) {
	ts := newTestServer(t, server.Options{})
	ts.upload(t, "ab12cd34", "old.txt", "old", "Alice")

	ts.timer.Fire(context.Background(), drop.ResolveInstance("ab12cd34"))

	resp, _ := ts.do(t, http.MethodGet, ts.fileURL("ab12cd34", "old.txt"), nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("download after expiry status = %d, want 404", resp.StatusCode)
	}
	ts.upload(t, "ab12cd34", "new.txt", "new", "Alice")
	files, err := ts.hub.Lookup("ab12cd34").Files(context.Background())
	if err != nil {
		t.Fatalf("Files() error = %v", err)
	}
	if len(files) != 1 {
		t.Errorf("files = %v, want only new.txt", files)
	}
}

func TestSessionScenario(t *testing.T) {
	ts := newTestServer(t, server.Options{})

	resp, data := ts.do(t, http.MethodPost, ts.url+"/api/sessions", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created struct{ Session string }
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("decoding %s: %v", data, err)
	}
	session := created.Session

	alice := ts.dial(t, session)
	join(t, alice, "Alice")
	snap := readFrame(t, alice)
	if !snap.IsSnapshot() {
		t.Fatalf("first frame is not a snapshot: %+v", snap)
	}
	if len(snap.Files) != 0 || len(snap.Logs) != 0 {
		t.Errorf("snapshot files=%v logs=%v, want empty", snap.Files, snap.Logs)
	}
	if len(snap.Users) != 1 || snap.Users[0] != "Alice" {
		t.Errorf("snapshot users = %v, want [Alice]", snap.Users)
	}
	expectEvent(t, alice, drop.EventUserJoin, "Alice")

	ts.upload(t, session, "report.pdf", strings.Repeat("x", 1024), "Alice")
	upload := expectEvent(t, alice, drop.EventFileUpload, "Alice")
	if upload.File == nil || upload.File.ID != "report.pdf" || upload.File.Size != 1024 {
		t.Errorf("upload event file = %+v", upload.File)
	}

	bob := ts.dial(t, session)
	join(t, bob, "Bob")
	snap = readFrame(t, bob)
	if _, ok := snap.Files["report.pdf"]; !ok || len(snap.Files) != 1 {
		t.Errorf("Bob's snapshot files = %v", snap.Files)
	}
	if len(snap.Logs) != 2 || snap.Logs[0].Kind != drop.EventFileUpload || snap.Logs[1].Kind != drop.EventUserJoin {
		t.Errorf("Bob's snapshot logs = %+v, want upload then Alice's join", snap.Logs)
	}
	if strings.Join(snap.Users, ",") != "Alice,Bob" {
		t.Errorf("Bob's snapshot users = %v", snap.Users)
	}
	expectEvent(t, bob, drop.EventUserJoin, "Bob")
	expectEvent(t, alice, drop.EventUserJoin, "Bob")

	resp, _ = ts.do(t, http.MethodDelete, ts.fileURL(session, "report.pdf"), nil, map[string]string{
		server.HeaderSessionName: "Bob",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	expectEvent(t, alice, drop.EventFileDelete, "Bob")
	expectEvent(t, bob, drop.EventFileDelete, "Bob")

	files, err := ts.hub.Lookup(session).Files(context.Background())
	if err != nil {
		t.Fatalf("Files() error = %v", err)
	}
	if len(files) != 0 {
		t.Errorf("files = %v, want empty", files)
	}

	alice.Close()
	expectEvent(t, bob, drop.EventUserLeave, "Alice")
}

func TestWebSocketChatAndErrors(t *testing.T) {
	ts := newTestServer(t, server.Options{})
	ws := ts.dial(t, "chat")

	join(t, ws, "Al")
	if frame := readFrame(t, ws); frame.Error != "Invalid name: Al." {
		t.Errorf("error frame = %q", frame.Error)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	if frame := readFrame(t, ws); frame.Error != "Invalid message." {
		t.Errorf("error frame = %q", frame.Error)
	}

	join(t, ws, "Alice")
	readFrame(t, ws)
	expectEvent(t, ws, drop.EventUserJoin, "Alice")

	if err := ws.WriteJSON(map[string]string{"action": "message", "message": "hi all"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	msg := expectEvent(t, ws, drop.EventMessage, "Alice")
	if msg.Message != "hi all" {
		t.Errorf("message = %q", msg.Message)
	}

	// Control characters are escaped as \u00XX, so a full-length message
	// is several times its rune count on the wire.
	longest := strings.Repeat("\x01", drop.MaxMessageLength)
	if err := ws.WriteJSON(map[string]string{"action": "message", "message": longest}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := expectEvent(t, ws, drop.EventMessage, "Alice"); msg.Message != longest {
		t.Errorf("long message came back with %d bytes", len(msg.Message))
	}

	if err := ws.WriteJSON(map[string]string{"action": "message", "message": longest + "\x01"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if frame := readFrame(t, ws); frame.Error != drop.ErrMessageTooLong.Error() {
		t.Errorf("error frame = %q, want %q", frame.Error, drop.ErrMessageTooLong.Error())
	}
}

func TestWebSocketClosedOnExpiry(t *testing.T) {
	ts := newTestServer(t, server.Options{})
	ws := ts.dial(t, "doomed")
	join(t, ws, "Alice")
	readFrame(t, ws)
	expectEvent(t, ws, drop.EventUserJoin, "Alice")

	ts.timer.Fire(context.Background(), drop.ResolveInstance("doomed"))

	expectEvent(t, ws, drop.EventClose, "")
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("ReadMessage() error = %v, want normal closure", err)
	}
}

func TestUploadReschedulesExpiry(t *testing.T) {
	ts := newTestServer(t, server.Options{})
	ts.upload(t, "ab12cd34", "a.txt", "a", "Alice")

	if _, ok := ts.timer.Pending(drop.ResolveInstance("ab12cd34")); !ok {
		t.Error("no expiry scheduled after upload")
	}
}
