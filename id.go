package dispatch

import "github.com/CorbanSy/PropDash-sub000/id"

// ID is the identifier type shared by every dispatch entity.
type ID = id.ID

// Prefix identifies the entity kind encoded in an ID.
type Prefix = id.Prefix
