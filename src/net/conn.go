package net

// Conn is a duplex channel of Messages between two nodes. Message boundaries
// are those of the underlying transport. WriteMessage is safe for concurrent
// use; ReadMessage is called by a single reader.
type Conn interface {
	ReadMessage() (*Message, error)
	WriteMessage(*Message) error
	RemoteAddr() string
	Close() error
}
