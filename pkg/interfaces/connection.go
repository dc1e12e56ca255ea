package interfaces

// Connection is one live client channel as seen by the room registry and the
// gateway. Implementations must make Emit safe for concurrent use; the websocket
// implementation funnels every write through a single writer goroutine.
type Connection interface {
	// ID is unique for the life of the process.
	ID() string

	// Emit queues an event for delivery. It returns an error once the connection
	// is closed or its send buffer stays full past the write timeout.
	Emit(event string, payload interface{}) error

	// Close tears the connection down. It is idempotent.
	Close() error
}
