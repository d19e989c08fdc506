package devicemapper

import "fmt"

// ThinID identifies a thin device inside a pool. The driver rejects values
// above MaxThinID; the harness passes them through unchecked.
type ThinID uint64

// Command is a pool message. String renders the driver's wire form.
type Command interface {
	fmt.Stringer
	command()
}

// CreateThin provisions a new, empty thin device.
type CreateThin struct {
	ID ThinID
}

func (c CreateThin) String() string { return fmt.Sprintf("create_thin %d", c.ID) }
func (CreateThin) command() {}

// CreateSnap provisions ID as a snapshot of Origin.
type CreateSnap struct {
	ID     ThinID
	Origin ThinID
}

func (c CreateSnap) String() string { return fmt.Sprintf("create_snap %d %d", c.ID, c.Origin) }
func (CreateSnap) command() {}

// Delete releases a thin device and its blocks.
type Delete struct {
	ID ThinID
}

func (c Delete) String() string { return fmt.Sprintf("delete %d", c.ID) }
func (Delete) command() {}
