package room

// Context is the ephemeral (room-id, state, meta) triple produced by a
// load and consumed by a save. It is never shared across requests.
type Context[S any] struct {
	RoomID string
	State  S
	Meta   Meta
}
