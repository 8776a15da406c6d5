package drop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// Options tunes coordinator behavior that is not part of its adapters.
type Options struct {
	// Expiry is the delay between a reschedule point and teardown.
	Expiry time.Duration

	// BucketDomain, when set, is advertised in join snapshots so clients can
	// download directly from a public bucket domain.
	BucketDomain string
}

// Coordinator is the single unit of mutation for one session instance. Every
// exported method holds the coordinator's lock for its whole body, including
// calls into the blob store, metadata store, and timer, so handlers for the
// same instance never interleave. Different coordinators share nothing.
type Coordinator struct {
	mu sync.Mutex

	instanceID string
	blobs      BlobStore
	store      MetadataStore
	timer      Timer
	logger     Logger
	clock      Clock
	idgen      IDGenerator
	opts       Options

	conns   []*Connection
	expired atomic.Bool
}

// NewCoordinator creates the coordinator for instanceID. It holds no durable
// state of its own; the FileIndex and EventLog are read from store on demand.
func NewCoordinator(instanceID string, blobs BlobStore, store MetadataStore, timer Timer, logger Logger, clock Clock, idgen IDGenerator, opts Options) *Coordinator {
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultExpiry
	}
	return &Coordinator{
		instanceID: instanceID,
		blobs:      blobs,
		store:      store,
		timer:      timer,
		logger:     logger,
		clock:      clock,
		idgen:      idgen,
		opts:       opts,
	}
}

// InstanceID returns the instance address this coordinator serves.
func (c *Coordinator) InstanceID() string { return c.instanceID }

// Expired reports whether the session has been torn down.
func (c *Coordinator) Expired() bool { return c.expired.Load() }

// Connect registers a freshly upgraded channel as an anonymous connection and
// pushes the session's expiry back.
func (c *Coordinator) Connect(ctx context.Context, conn Conn, addr string) (*Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Expired() {
		return nil, ErrSessionExpired
	}

	connection := &Connection{
		id:     c.idgen.New(),
		conn:   conn,
		addr:   addr,
		active: true,
	}
	c.conns = append(c.conns, connection)
	c.logger.Debug("connection accepted", "instance", c.instanceID, "conn", connection.id, "addr", addr)

	c.reschedule(ctx)
	return connection, nil
}

// HandleMessage processes one frame received on connection. Problems with the
// frame are reported back on the same channel; the returned error is reserved
// for an expired coordinator.
func (c *Coordinator) HandleMessage(ctx context.Context, connection *Connection, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Expired() {
		return ErrSessionExpired
	}

	if !connection.active {
		// The channel was dropped after a failed send but kept talking.
		_ = connection.conn.Close(CloseProtocolViolation, "WebSocket broken.")
		return nil
	}

	var frame ClientFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		c.sendError(ctx, connection, "Invalid message.")
		return nil
	}

	if frame.Action == ActionMessage {
		c.handleChat(ctx, connection, frame.Message)
		return nil
	}

	name := ""
	if frame.Name != nil {
		name = *frame.Name
	}
	if err := ValidateName(name); err != nil {
		c.sendError(ctx, connection, invalidNameMessage(name))
		return nil
	}
	if connection.joined() {
		return nil
	}
	c.join(ctx, connection, name)
	return nil
}

// Disconnect removes connection after its channel closed or failed, and tells
// the remaining participants if it had joined.
func (c *Coordinator) Disconnect(ctx context.Context, connection *Connection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Expired() || !connection.active {
		return nil
	}
	c.logger.Debug("connection closed", "instance", c.instanceID, "conn", connection.id)
	return c.drop(ctx, connection)
}

// Upload stores the bytes read from r as fileID and announces it.
// Re-uploading an existing id overwrites it and does not count against MaxFiles.
func (c *Coordinator) Upload(ctx context.Context, fileID string, r io.Reader, contentType string, encrypted bool, user string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Expired() {
		return "", ErrSessionExpired
	}
	if fileID == "" {
		return "", ErrInvalidFileID
	}

	files, err := c.loadFiles(ctx)
	if err != nil {
		return "", err
	}
	_, exists := files[fileID]
	if !exists && len(files) >= MaxFiles {
		return "", ErrCapacityExceeded
	}

	key := BlobKey(c.instanceID, fileID)
	info, err := c.blobs.Put(ctx, key, r, contentType)
	if err != nil {
		return "", fmt.Errorf("storing file: %w", err)
	}

	file := UploadedFile{
		ID:         fileID,
		Name:       fileID,
		Type:       info.ContentType,
		Size:       info.Size,
		Encrypted:  encrypted,
		LastUpdate: c.clock.Now(),
	}
	files[fileID] = file

	// On a failed overwrite the new bytes stay in place and the index keeps
	// the previous entry until the next successful upload of fileID.
	if err := c.saveFiles(ctx, files); err != nil {
		if !exists {
			if delErr := c.blobs.Delete(ctx, key); delErr != nil {
				c.logger.Warn("removing orphaned blob", "key", key, "error", delErr)
			}
		}
		return "", err
	}
	c.logger.Info("file uploaded", "instance", c.instanceID, "file", fileID, "size", file.Size, "user", user)

	// The file is committed at this point; a lost log entry must not fail it.
	if err := c.broadcast(ctx, c.newEvent(EventFileUpload, user, &file, "")); err != nil {
		c.logger.Error("recording upload", "instance", c.instanceID, "file", fileID, "error", err)
	}
	c.reschedule(ctx)
	return fileID, nil
}

// Delete removes fileID from the session and announces it.
func (c *Coordinator) Delete(ctx context.Context, fileID string, user string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Expired() {
		return ErrSessionExpired
	}

	files, err := c.loadFiles(ctx)
	if err != nil {
		return err
	}
	file, ok := files[fileID]
	if !ok {
		return ErrFileNotFound
	}

	if err := c.blobs.Delete(ctx, BlobKey(c.instanceID, fileID)); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	delete(files, fileID)
	if err := c.saveFiles(ctx, files); err != nil {
		return err
	}
	c.logger.Info("file deleted", "instance", c.instanceID, "file", fileID, "user", user)

	if err := c.broadcast(ctx, c.newEvent(EventFileDelete, user, &file, "")); err != nil {
		c.logger.Error("recording delete", "instance", c.instanceID, "file", fileID, "error", err)
	}
	return nil
}

// Get opens the stored bytes of fileID. The caller must close the Blob body.
func (c *Coordinator) Get(ctx context.Context, fileID string) (*Blob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Expired() {
		return nil, ErrSessionExpired
	}

	blob, err := c.blobs.Get(ctx, BlobKey(c.instanceID, fileID))
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return blob, nil
}

// Expire tears the session down: every blob is deleted, connected
// participants get a close event, and all durable state is cleared. Firing
// on an already empty session is a no-op that succeeds.
func (c *Coordinator) Expire(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Expired() {
		return nil
	}

	files, err := c.loadFiles(ctx)
	if err != nil {
		c.logger.Warn("reading file index during expiry", "instance", c.instanceID, "error", err)
		files = FileIndex{}
	}
	for id := range files {
		if err := c.blobs.Delete(ctx, BlobKey(c.instanceID, id)); err != nil {
			c.logger.Warn("deleting blob during expiry", "instance", c.instanceID, "file", id, "error", err)
		}
	}

	if payload, err := json.Marshal(c.newEvent(EventClose, "", nil, "")); err == nil {
		for _, connection := range c.conns {
			_ = connection.conn.Send(payload)
		}
	}
	c.closeAll(CloseNormal, "Session expired.")

	if err := c.store.DeleteAll(ctx, c.instanceID); err != nil {
		return fmt.Errorf("clearing session state: %w", err)
	}

	c.expired.Store(true)
	c.logger.Info("session expired", "instance", c.instanceID, "files", len(files))
	return nil
}

// CloseConnections ends every registered channel without touching durable state.
func (c *Coordinator) CloseConnections(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeAll(code, reason)
}

// Files returns the current FileIndex.
func (c *Coordinator) Files(ctx context.Context) (FileIndex, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadFiles(ctx)
}

// Logs returns the current EventLog, oldest first.
func (c *Coordinator) Logs(ctx context.Context) (EventLog, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLogs(ctx)
}

// Users returns the display names of joined connections in join order.
func (c *Coordinator) Users() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.users()
}

// ConnectionCount returns the number of registered connections, joined or not.
func (c *Coordinator) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

// ValidateName checks a display name against MinNameLength and MaxNameLength.
func ValidateName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < MinNameLength || n > MaxNameLength {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// The methods below expect c.mu to be held.

func (c *Coordinator) join(ctx context.Context, connection *Connection, name string) {
	files, err := c.loadFiles(ctx)
	if err != nil {
		c.logger.Error("loading files for snapshot", "instance", c.instanceID, "error", err)
		c.sendError(ctx, connection, "Session unavailable.")
		return
	}
	logs, err := c.loadLogs(ctx)
	if err != nil {
		c.logger.Error("loading logs for snapshot", "instance", c.instanceID, "error", err)
		c.sendError(ctx, connection, "Session unavailable.")
		return
	}

	snapshot := Snapshot{
		Ready:        true,
		BucketDomain: c.opts.BucketDomain,
		Files:        files,
		Logs:         logs.NewestFirst(),
		Users:        append(c.users(), name),
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Error("encoding snapshot", "error", err)
		return
	}
	if err := connection.conn.Send(payload); err != nil {
		// Never announced, so there is no leave to broadcast.
		c.logger.Debug("send failed", "instance", c.instanceID, "conn", connection.id, "error", err)
		_ = c.drop(ctx, connection)
		return
	}
	connection.name = name
	c.logger.Info("user joined", "instance", c.instanceID, "conn", connection.id, "user", name)

	if err := c.broadcast(ctx, c.newEvent(EventUserJoin, name, nil, "")); err != nil {
		c.logger.Error("broadcasting join", "instance", c.instanceID, "error", err)
	}
}

func (c *Coordinator) handleChat(ctx context.Context, connection *Connection, text string) {
	if !connection.joined() {
		c.sendError(ctx, connection, ErrNotJoined.Error())
		return
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		c.sendError(ctx, connection, ErrMessageTooLong.Error())
		return
	}
	if err := c.broadcast(ctx, c.newEvent(EventMessage, connection.name, nil, text)); err != nil {
		c.logger.Error("broadcasting message", "instance", c.instanceID, "error", err)
		c.sendError(ctx, connection, "Message could not be saved.")
	}
}

// broadcast delivers event to every registered connection. Connections whose
// send fails are removed, and a user_leave follow-up is broadcast for each one
// that had joined. Follow-ups go through a work list rather than recursion,
// so departures discovered while announcing a departure are handled in the
// same loop. An event is logged after the follow-ups it triggered, and the
// log is persisted once.
func (c *Coordinator) broadcast(ctx context.Context, event LogEvent) error {
	queue := []LogEvent{event}
	followUps := [][]int{nil}
	for i := 0; i < len(queue); i++ {
		for _, departed := range c.fanOut(queue[i]) {
			if departed.joined() {
				c.logger.Info("user left", "instance", c.instanceID, "conn", departed.id, "user", departed.name)
				followUps[i] = append(followUps[i], len(queue))
				queue = append(queue, c.newEvent(EventUserLeave, departed.name, nil, ""))
				followUps = append(followUps, nil)
			}
		}
	}
	return c.appendLogs(ctx, logOrder(queue, followUps)...)
}

// logOrder lists queue so that each event comes after the follow-ups it
// triggered, followUps[i] holding the queue indexes caused by queue[i].
func logOrder(queue []LogEvent, followUps [][]int) []LogEvent {
	ordered := make([]LogEvent, 0, len(queue))
	type frame struct{ index, next int }
	stack := []frame{{index: 0}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(followUps[top.index]) {
			child := followUps[top.index][top.next]
			top.next++
			stack = append(stack, frame{index: child})
			continue
		}
		ordered = append(ordered, queue[top.index])
		stack = stack[:len(stack)-1]
	}
	return ordered
}

// fanOut sends event to every registered connection and returns those that failed.
func (c *Coordinator) fanOut(event LogEvent) []*Connection {
	payload, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("encoding event", "kind", string(event.Kind), "error", err)
		return nil
	}

	var departed []*Connection
	kept := make([]*Connection, 0, len(c.conns))
	for _, connection := range c.conns {
		if err := connection.conn.Send(payload); err != nil {
			c.logger.Debug("send failed", "instance", c.instanceID, "conn", connection.id, "error", err)
			connection.active = false
			departed = append(departed, connection)
			continue
		}
		kept = append(kept, connection)
	}
	c.conns = kept
	return departed
}

// send delivers v to one connection. A failed send drops the connection and
// reports false.
func (c *Coordinator) send(ctx context.Context, connection *Connection, v any) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("encoding frame", "error", err)
		return false
	}
	if err := connection.conn.Send(payload); err != nil {
		c.logger.Debug("send failed", "instance", c.instanceID, "conn", connection.id, "error", err)
		if err := c.drop(ctx, connection); err != nil {
			c.logger.Error("broadcasting departure", "instance", c.instanceID, "error", err)
		}
		return false
	}
	return true
}

func (c *Coordinator) sendError(ctx context.Context, connection *Connection, message string) {
	c.send(ctx, connection, ErrorFrame{Error: message})
}

// drop marks connection closed, removes it, and announces its departure.
func (c *Coordinator) drop(ctx context.Context, connection *Connection) error {
	connection.active = false
	for i, candidate := range c.conns {
		if candidate == connection {
			c.conns = append(c.conns[:i:i], c.conns[i+1:]...)
			break
		}
	}
	if !connection.joined() {
		return nil
	}
	c.logger.Info("user left", "instance", c.instanceID, "conn", connection.id, "user", connection.name)
	return c.broadcast(ctx, c.newEvent(EventUserLeave, connection.name, nil, ""))
}

func (c *Coordinator) closeAll(code int, reason string) {
	for _, connection := range c.conns {
		connection.active = false
		_ = connection.conn.Close(code, reason)
	}
	c.conns = nil
}

func (c *Coordinator) users() []string {
	users := make([]string, 0, len(c.conns))
	for _, connection := range c.conns {
		if connection.joined() {
			users = append(users, connection.name)
		}
	}
	return users
}

func (c *Coordinator) newEvent(kind EventKind, user string, file *UploadedFile, message string) LogEvent {
	return LogEvent{
		Kind:    kind,
		User:    user,
		File:    file,
		Message: message,
		Date:    c.clock.Now(),
	}
}

// reschedule pushes the expiry deadline back. A failure only delays teardown,
// so it is logged rather than failing the triggering operation.
func (c *Coordinator) reschedule(ctx context.Context) {
	at := c.clock.Now().Add(c.opts.Expiry)
	if err := c.timer.Schedule(ctx, c.instanceID, at); err != nil {
		c.logger.Warn("scheduling expiry", "instance", c.instanceID, "error", err)
	}
}

func (c *Coordinator) loadFiles(ctx context.Context) (FileIndex, error) {
	data, err := c.store.Get(ctx, c.instanceID, FieldFiles)
	if err != nil {
		return nil, fmt.Errorf("loading file index: %w", err)
	}
	return decodeFiles(data)
}

func (c *Coordinator) saveFiles(ctx context.Context, files FileIndex) error {
	data, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("encoding file index: %w", err)
	}
	if err := c.store.Put(ctx, c.instanceID, FieldFiles, data); err != nil {
		return fmt.Errorf("saving file index: %w", err)
	}
	return nil
}

func (c *Coordinator) loadLogs(ctx context.Context) (EventLog, error) {
	data, err := c.store.Get(ctx, c.instanceID, FieldLogs)
	if err != nil {
		return nil, fmt.Errorf("loading event log: %w", err)
	}
	return decodeLogs(data)
}

func (c *Coordinator) appendLogs(ctx context.Context, events ...LogEvent) error {
	logs, err := c.loadLogs(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(logs.Append(events...))
	if err != nil {
		return fmt.Errorf("encoding event log: %w", err)
	}
	if err := c.store.Put(ctx, c.instanceID, FieldLogs, data); err != nil {
		return fmt.Errorf("saving event log: %w", err)
	}
	return nil
}
