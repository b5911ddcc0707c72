package playback

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/denoise-client/internal/metrics"
)

const refPrefix = "blob:"

var (
	// ErrUnknownRef is returned when releasing a ref that is not live
	ErrUnknownRef = errors.New("unknown playback reference")

	// ErrCapacityExceeded is returned when a payload would exceed the byte cap
	ErrCapacityExceeded = errors.New("playback capacity exceeded")
)

// Ref is an opaque, locally resolvable reference to a payload
type Ref string

// String returns the ref as text
func (r Ref) String() string {
	return string(r)
}

// ID returns the ref without its scheme prefix, suitable for URL paths
func (r Ref) ID() string {
	return strings.TrimPrefix(string(r), refPrefix)
}

// ParseRef accepts either a full ref or its bare ID
func ParseRef(s string) Ref {
	if strings.HasPrefix(s, refPrefix) {
		return Ref(s)
	}
	return Ref(refPrefix + s)
}

// Entry is a live payload held by the registry
type Entry struct {
	Ref         Ref
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

// Registry holds payloads behind explicit-release references
type Registry struct {
	entries  map[Ref]*Entry
	bytes    int64
	maxBytes int64
	metrics  *metrics.Metrics
	mu       sync.RWMutex
}

// NewRegistry creates a registry. maxBytes <= 0 disables the byte cap.
func NewRegistry(maxBytes int64, m *metrics.Metrics) *Registry {
	return &Registry{
		entries:  make(map[Ref]*Entry),
		maxBytes: maxBytes,
		metrics:  m,
	}
}

// Create registers payload and returns its ref. The registry takes ownership
// of payload; callers must not modify it afterwards.
func (r *Registry) Create(payload []byte, contentType string) (Ref, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := int64(len(payload))
	if r.maxBytes > 0 && r.bytes+size > r.maxBytes {
		return "", fmt.Errorf("%w: %d bytes live, %d requested, cap %d", ErrCapacityExceeded, r.bytes, size, r.maxBytes)
	}

	ref := Ref(refPrefix + uuid.NewString())
	r.entries[ref] = &Entry{
		Ref:         ref,
		ContentType: contentType,
		Data:        payload,
		CreatedAt:   time.Now(),
	}
	r.bytes += size
	r.metrics.SetHandles(len(r.entries), r.bytes)

	return ref, nil
}

// Resolve returns the entry behind ref
func (r *Registry) Resolve(ref Ref) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[ref]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Release frees the payload behind ref
func (r *Registry) Release(ref Ref) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[ref]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRef, ref)
	}

	delete(r.entries, ref)
	r.bytes -= int64(len(entry.Data))
	r.metrics.SetHandles(len(r.entries), r.bytes)

	return nil
}

// Len returns the number of live refs
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Bytes returns the number of bytes held by live refs
func (r *Registry) Bytes() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bytes
}
