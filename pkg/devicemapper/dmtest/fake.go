// Package dmtest provides an in-memory devicemapper.Driver that mimics the
// dm-thin message rules the harness relies on.
package dmtest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/fly-io/thinp-harness/pkg/blockdev"
	"github.com/fly-io/thinp-harness/pkg/devicemapper"
	"github.com/fly-io/thinp-harness/pkg/process"
	"github.com/fly-io/thinp-harness/pkg/process/processtest"
)

// Fake is an in-memory Driver. The zero value is ready to use.
type Fake struct {
	// CreateErr, when set, is returned by every Create.
	CreateErr error
	// RemoveBusy makes that many Remove calls fail with "device busy"
	// before one succeeds.
	RemoveBusy int

	mu       sync.Mutex
	active   map[string]*mapping
	metadata map[string]*metadata
	creates  []string
	removes  int
	messages []string
}

type mapping struct {
	table string
	// md is nil for targets other than thin-pool.
	md *metadata
}

// metadata is what dm-thin keeps on a metadata device. It outlives the
// mapping and is only cleared by WipeMetadata.
type metadata struct {
	blockSize string
	thins     map[uint64]bool
}

func (f *Fake) Create(ctx context.Context, name, table string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creates = append(f.creates, table)
	if f.CreateErr != nil {
		return f.CreateErr
	}
	if f.active == nil {
		f.active = make(map[string]*mapping)
	}
	if _, ok := f.active[name]; ok {
		return reject("create", name, "Device or resource busy")
	}

	m := &mapping{table: table}
	fields := strings.Fields(table)
	if len(fields) >= 6 && fields[2] == devicemapper.TargetThinPool {
		ref, blockSize := fields[3], fields[5]
		if f.metadata == nil {
			f.metadata = make(map[string]*metadata)
		}
		md, ok := f.metadata[ref]
		if !ok {
			md = &metadata{blockSize: blockSize, thins: make(map[uint64]bool)}
			f.metadata[ref] = md
		} else if md.blockSize != blockSize {
			return reject("create", name, "Invalid argument")
		}
		m.md = md
	}
	f.active[name] = m
	return nil
}

// WipeMetadata forgets everything recorded on the metadata device dev, the
// way zeroing its head does for dm-thin.
func (f *Fake) WipeMetadata(dev string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.metadata, metadataRef(dev))
}

// Wiper returns an Executor that answers blockdev size queries with sectors
// and treats every dd as a wipe of its of= device.
func (f *Fake) Wiper(sectors uint64) *processtest.Recorder {
	return &processtest.Recorder{Handler: f.WipeHandler(sectors)}
}

// WipeHandler is the Recorder handler used by Wiper.
func (f *Fake) WipeHandler(sectors uint64) func(processtest.Call) (*process.Result, error) {
	return func(call processtest.Call) (*process.Result, error) {
		switch call.Name {
		case "blockdev":
			return processtest.Stdout(call, strconv.FormatUint(sectors, 10)+"\n")
		case "dd":
			for _, arg := range call.Args {
				if dev, ok := strings.CutPrefix(arg, "of="); ok {
					f.WipeMetadata(dev)
				}
			}
		}
		return processtest.Stdout(call, "")
	}
}

func metadataRef(dev string) string {
	ref, err := blockdev.DeviceCode(dev)
	if err != nil {
		return dev
	}
	return ref
}

func (f *Fake) Remove(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.removes++
	if f.RemoveBusy > 0 {
		f.RemoveBusy--
		return reject("remove", name, "Device or resource busy")
	}
	if _, ok := f.active[name]; !ok {
		return reject("remove", name, "No such device or address")
	}
	delete(f.active, name)
	return nil
}

func (f *Fake) Message(ctx context.Context, name string, sector uint64, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.messages = append(f.messages, message)
	active, ok := f.active[name]
	if !ok {
		return reject("message", name, "No such device or address")
	}
	if active.md == nil {
		return reject("message", name, "Invalid argument")
	}
	m := active.md

	fields := strings.Fields(message)
	if len(fields) == 0 {
		return reject("message", name, "Invalid argument")
	}
	ids := make([]uint64, 0, 2)
	for _, raw := range fields[1:] {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id > devicemapper.MaxThinID {
			return reject("message", name, "Operation not supported")
		}
		ids = append(ids, id)
	}

	switch {
	case fields[0] == "create_thin" && len(ids) == 1:
		if m.thins[ids[0]] {
			return reject("message", name, "File exists")
		}
		m.thins[ids[0]] = true
	case fields[0] == "create_snap" && len(ids) == 2:
		if m.thins[ids[0]] {
			return reject("message", name, "File exists")
		}
		if !m.thins[ids[1]] {
			return reject("message", name, "No data available")
		}
		m.thins[ids[0]] = true
	case fields[0] == "delete" && len(ids) == 1:
		if !m.thins[ids[0]] {
			return reject("message", name, "No data available")
		}
		delete(m.thins, ids[0])
	default:
		return reject("message", name, "Invalid argument")
	}
	return nil
}

// Creates returns every table line passed to Create.
func (f *Fake) Creates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.creates...)
}

// Removes counts Remove calls, failed ones included.
func (f *Fake) Removes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removes
}

// Messages returns every message received, rejected ones included.
func (f *Fake) Messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

// Active reports whether name is currently mapped.
func (f *Fake) Active(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.active[name]
	return ok
}

// Thins returns the number of thin devices provisioned in name.
func (f *Fake) Thins(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.active[name]; ok && m.md != nil {
		return len(m.md.thins)
	}
	return 0
}

func reject(op, name, msg string) error {
	return &devicemapper.DriverError{
		Op:      op,
		Device:  devicemapper.DevicePath(name),
		Message: fmt.Sprintf("device-mapper: %s ioctl on %s failed: %s", op, name, msg),
	}
}
