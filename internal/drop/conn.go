package drop

// Close codes used when the coordinator ends a channel.
const (
	CloseNormal            = 1000
	CloseGoingAway         = 1001
	CloseProtocolViolation = 1002
)

// Conn is the send side of one participant's duplex channel. Send is
// synchronous: a returned error means the message was not delivered.
type Conn interface {
	Send(payload []byte) error
	Close(code int, reason string) error
}

// Connection is a participant as seen by the coordinator. It lives only in
// the coordinator's memory: presence is soft state and does not survive a
// restart, unlike the FileIndex and EventLog.
//
// All fields are guarded by the owning coordinator's lock.
type Connection struct {
	id     string
	conn   Conn
	name   string
	addr   string
	active bool
}

// ID returns the connection id used in logs.
func (c *Connection) ID() string { return c.id }

// Addr returns the participant's origin address.
func (c *Connection) Addr() string { return c.addr }

func (c *Connection) joined() bool { return c.name != "" }
