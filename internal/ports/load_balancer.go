package ports

// ConnectionSelector picks the connection handed to the next caller. The
// slice only holds live connections and is never mutated.
type ConnectionSelector interface {
	Select(conns []Connection) (Connection, error)
	Name() string
}
