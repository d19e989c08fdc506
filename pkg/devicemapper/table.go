package devicemapper

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fly-io/thinp-harness/pkg/blockdev"
)

// Target is one device-mapper target: a type name, a length in sectors and
// an ordered parameter list.
type Target interface {
	Type() string
	// Length is the mapped size in sectors.
	Length() uint64
	// Validate checks the parameters without touching any device.
	Validate() error
	// Params renders the parameter list, resolving device references.
	Params() ([]string, error)
}

// ThinPool is the thin-pool target.
type ThinPool struct {
	// Size of the pool in sectors.
	Size        uint64
	MetadataDev string
	DataDev     string
	// DataBlockSize in sectors. Must be a power of two within
	// [MinDataBlockSize, MaxDataBlockSize].
	DataBlockSize uint64
	// LowWaterMark in data blocks.
	LowWaterMark uint64
	// Features are optional feature arguments such as "skip_block_zeroing".
	Features []string
}

func (p ThinPool) Type() string   { return TargetThinPool }
func (p ThinPool) Length() uint64 { return p.Size }

// Blocks is the number of whole data blocks the pool spans.
func (p ThinPool) Blocks() uint64 {
	if p.DataBlockSize == 0 {
		return 0
	}
	return p.Size / p.DataBlockSize
}

func (p ThinPool) Validate() error {
	if p.MetadataDev == "" {
		return invalid(TargetThinPool, "metadata device is required")
	}
	if p.DataDev == "" {
		return invalid(TargetThinPool, "data device is required")
	}
	if p.Size == 0 {
		return invalid(TargetThinPool, "size must be positive")
	}
	b := p.DataBlockSize
	if b == 0 || b&(b-1) != 0 {
		return invalid(TargetThinPool, "data block size %d is not a power of two", b)
	}
	if b < MinDataBlockSize || b > MaxDataBlockSize {
		return invalid(TargetThinPool, "data block size %d outside [%d, %d]", b, MinDataBlockSize, MaxDataBlockSize)
	}
	if p.Size < b {
		return invalid(TargetThinPool, "size %d is smaller than one data block", p.Size)
	}
	if p.LowWaterMark > p.Blocks() {
		return invalid(TargetThinPool, "low water mark %d exceeds pool size of %d blocks", p.LowWaterMark, p.Blocks())
	}
	return nil
}

func (p ThinPool) Params() ([]string, error) {
	meta, err := blockdev.DeviceCode(p.MetadataDev)
	if err != nil {
		return nil, err
	}
	data, err := blockdev.DeviceCode(p.DataDev)
	if err != nil {
		return nil, err
	}
	params := []string{
		meta,
		data,
		strconv.FormatUint(p.DataBlockSize, 10),
		strconv.FormatUint(p.LowWaterMark, 10),
		strconv.Itoa(len(p.Features)),
	}
	return append(params, p.Features...), nil
}

// Thin is the thin target, exposing one thin device of an active pool.
type Thin struct {
	Size    uint64
	PoolDev string
	ID      ThinID
}

func (t Thin) Type() string   { return TargetThin }
func (t Thin) Length() uint64 { return t.Size }

func (t Thin) Validate() error {
	if t.PoolDev == "" {
		return invalid(TargetThin, "pool device is required")
	}
	if t.Size == 0 {
		return invalid(TargetThin, "size must be positive")
	}
	return nil
}

func (t Thin) Params() ([]string, error) {
	pool, err := blockdev.DeviceCode(t.PoolDev)
	if err != nil {
		return nil, err
	}
	return []string{pool, strconv.FormatUint(uint64(t.ID), 10)}, nil
}

// Table describes a mapping to be activated. It is an immutable value.
type Table struct {
	target Target
}

// NewTable builds a single-target table mapping sectors [0, target.Length()).
func NewTable(target Target) Table {
	return Table{target: target}
}

// Target returns the table's target.
func (t Table) Target() Target { return t.target }

// Validate runs the target's validation predicate. It has no side effects.
func (t Table) Validate() error {
	if t.target == nil {
		return invalid("table", "no target")
	}
	return t.target.Validate()
}

// State is StateValidated when the table passes validation and
// StateUnbuilt otherwise.
func (t Table) State() State {
	if t.Validate() != nil {
		return StateUnbuilt
	}
	return StateValidated
}

// Format renders the table line passed to the driver, e.g.
// "0 20971520 thin-pool 253:0 253:1 128 8 0".
func (t Table) Format() (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	params, err := t.target.Params()
	if err != nil {
		return "", err
	}
	fields := append([]string{"0", strconv.FormatUint(t.target.Length(), 10), t.target.Type()}, params...)
	return strings.Join(fields, " "), nil
}

func (t Table) String() string {
	if t.target == nil {
		return "<empty table>"
	}
	return fmt.Sprintf("%s[%d sectors]", t.target.Type(), t.target.Length())
}
