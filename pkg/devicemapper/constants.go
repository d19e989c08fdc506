package devicemapper

// Limits enforced by the dm-thin target.
const (
	// MinDataBlockSize is the smallest thin-pool data block, in sectors (64 KiB).
	MinDataBlockSize = 128
	// MaxDataBlockSize is the largest thin-pool data block, in sectors (1 GiB).
	MaxDataBlockSize = 1 << 21
	// MaxThinID is the largest thin device identifier the driver accepts.
	// Identifiers are 24-bit numbers.
	MaxThinID = 1<<24 - 1
	// SectorSize is the sector size in bytes (512 bytes)
	SectorSize = 512
	// MapperDir is where activated devices appear.
	MapperDir = "/dev/mapper"
)

// Target type names.
const (
	TargetThinPool = "thin-pool"
	TargetThin     = "thin"
)
