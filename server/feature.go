package server

import (
	"io"
	"reflect"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// Features is the per-connection capability store.
//
// Entries are keyed by capability type, usually an interface type, so a
// handler can ask for "the current identity" without knowing which concrete
// value implements it. One value may be stored under several keys.
//
// Reads are lock-free. Creation of default entries is serialized so a
// background task (e.g. an idle timer) and the command handler never build
// two instances of the same capability.
type Features struct {
	entries  *xsync.MapOf[reflect.Type, any]
	defaults map[reflect.Type]func(*Features) any

	createMu sync.Mutex
	closed   bool
}

// defaultFeatures are installed in every store created by NewFeatures.
var (
	defaultFeaturesMu sync.RWMutex
	defaultFeatures   = map[reflect.Type]func(*Features) any{}
)

// RegisterFeatureDefault registers the factory used to create capability T
// on first access in every store created afterwards. The factory receives the
// store so the instance can register itself under alias keys with
// SetFeature; it must not call GetFeature.
func RegisterFeatureDefault[T any](factory func(*Features) T) {
	defaultFeaturesMu.Lock()
	defer defaultFeaturesMu.Unlock()
	defaultFeatures[reflect.TypeFor[T]()] = func(f *Features) any { return factory(f) }
}

// NewFeatures returns an empty store using the registered default factories.
func NewFeatures() *Features {
	defaultFeaturesMu.RLock()
	defaults := make(map[reflect.Type]func(*Features) any, len(defaultFeatures))
	for k, v := range defaultFeatures {
		defaults[k] = v
	}
	defaultFeaturesMu.RUnlock()

	return &Features{
		entries:  xsync.NewMapOf[reflect.Type, any](),
		defaults: defaults,
	}
}

// SetFeatureDefault overrides the default factory of T for this store only.
// It must be called before the store is shared with other goroutines.
func SetFeatureDefault[T any](f *Features, factory func(*Features) T) {
	f.defaults[reflect.TypeFor[T]()] = func(f *Features) any { return factory(f) }
}

// LookupFeature returns the instance stored for T without creating one.
func LookupFeature[T any](f *Features) (T, bool) {
	v, ok := f.entries.Load(reflect.TypeFor[T]())
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// GetFeature returns the instance implementing T, creating it with the
// registered default factory on first access. Without a factory the zero
// value of T is returned and nothing is stored.
func GetFeature[T any](f *Features) T {
	if t, ok := LookupFeature[T](f); ok {
		return t
	}

	key := reflect.TypeFor[T]()

	f.createMu.Lock()
	defer f.createMu.Unlock()

	// Another goroutine may have created it while we waited.
	if t, ok := LookupFeature[T](f); ok {
		return t
	}

	factory, ok := f.defaults[key]
	if !ok || f.closed {
		var zero T
		return zero
	}

	v := factory(f)
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero
	}
	f.entries.Store(key, v)
	return t
}

// SetFeature stores v as the instance implementing T, replacing any
// previous one.
func SetFeature[T any](f *Features, v T) {
	f.entries.Store(reflect.TypeFor[T](), v)
}

// DeleteFeature removes the instance stored for T.
func DeleteFeature[T any](f *Features) {
	f.entries.Delete(reflect.TypeFor[T]())
}

// Len returns the number of capability keys currently stored.
func (f *Features) Len() int {
	return f.entries.Size()
}

// Close tears the store down. Entries implementing io.Closer are closed
// once, even when registered under several keys.
func (f *Features) Close() error {
	f.createMu.Lock()
	f.closed = true
	f.createMu.Unlock()

	var closers []io.Closer
	seen := make(map[any]struct{})
	f.entries.Range(func(_ reflect.Type, v any) bool {
		c, ok := v.(io.Closer)
		if !ok {
			return true
		}
		if reflect.TypeOf(v).Comparable() {
			if _, dup := seen[v]; dup {
				return true
			}
			seen[v] = struct{}{}
		}
		closers = append(closers, c)
		return true
	})
	f.entries.Clear()

	var firstErr error
	for _, c := range closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
