package devicemapper

import "context"

// Driver is the device-mapper control interface consumed by the harness.
// Rejections are reported as *DriverError.
type Driver interface {
	// Create loads table under name and activates it.
	Create(ctx context.Context, name, table string) error

	// Remove deactivates and removes the mapping called name.
	Remove(ctx context.Context, name string) error

	// Message sends a target message to the mapping called name at sector.
	Message(ctx context.Context, name string, sector uint64, message string) error
}
