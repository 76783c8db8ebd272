package instance

import "sync"

// DeviceThreadMap implements the device-blocking policy: every
// ModelInstance that shares a device_id shares exactly one BackendThread.
// Entries are written exactly once, at instance-creation time — later
// lookups for the same device_id always return the thread already
// there, never replace it.
//
// A DeviceThreadMap may be shared across every Model in a process (the
// policy is about devices, not models) or scoped to one Model — the
// caller building Models decides; package instance only implements the
// write-once lookup-or-insert semantics.
type DeviceThreadMap struct {
	mu      sync.Mutex
	threads map[int]*BackendThread
}

// NewDeviceThreadMap constructs an empty map.
func NewDeviceThreadMap() *DeviceThreadMap {
	return &DeviceThreadMap{threads: make(map[int]*BackendThread)}
}

// LookupOrCreate returns the BackendThread already registered for
// deviceID, or creates one via newThread and registers it if none
// exists yet. The registration is write-once: concurrent callers racing
// on the same deviceID converge on a single winner's thread.
func (d *DeviceThreadMap) LookupOrCreate(deviceID int, newThread func() *BackendThread) *BackendThread {
	d.mu.Lock()
	defer d.mu.Unlock()
	if bt, ok := d.threads[deviceID]; ok {
		return bt
	}
	bt := newThread()
	d.threads[deviceID] = bt
	return bt
}
