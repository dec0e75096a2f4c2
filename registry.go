package iiwa_guard

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.viam.com/rdk/logging"
)

// SharedWorld is a headless session with a scene loaded, shared by every
// resource configured with the same scene file.
type SharedWorld struct {
	Session *Session
	Bodies  Bodies
	Scene   *Scene
}

type worldEntry struct {
	world    *SharedWorld
	path     string
	refCount int64 // Atomic reference counter
	mu       sync.RWMutex
}

// WorldRegistry hands out shared headless worlds keyed by scene path. The empty
// key is the built-in scene.
type WorldRegistry struct {
	entries map[string]*worldEntry
	mu      sync.RWMutex
}

func NewWorldRegistry() *WorldRegistry {
	return &WorldRegistry{
		entries: make(map[string]*worldEntry),
	}
}

// Acquire returns the world for sceneFile, loading it on first use.
func (r *WorldRegistry) Acquire(sceneFile string, logger logging.Logger) (*SharedWorld, string, error) {
	key := moduleDataPath(sceneFile)

	r.mu.RLock()
	entry, exists := r.entries[key]
	r.mu.RUnlock()

	if exists {
		if w := r.retain(entry); w != nil {
			return w, key, nil
		}
	}

	return r.create(key, sceneFile, logger)
}

func (r *WorldRegistry) retain(entry *worldEntry) *SharedWorld {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.world == nil {
		return nil
	}
	atomic.AddInt64(&entry.refCount, 1)
	return entry.world
}

func (r *WorldRegistry) create(key, sceneFile string, logger logging.Logger) (*SharedWorld, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.entries[key]; exists {
		if w := r.retain(entry); w != nil {
			return w, key, nil
		}
	}

	scene, path, err := LoadSceneFile(sceneFile, logger)
	if err != nil {
		return nil, key, err
	}

	session := Connect(Direct, logger)
	bodies, err := LoadEnvironment(session, scene)
	if err != nil {
		return nil, key, fmt.Errorf("failed to load collision world for %q: %w", path, err)
	}

	entry := &worldEntry{
		world:    &SharedWorld{Session: session, Bodies: bodies, Scene: scene},
		path:     path,
		refCount: 1,
	}
	r.entries[key] = entry

	logger.Infof("Created collision world with bodies %v for scene %q", bodies.Names(), key)
	return entry.world, key, nil
}

// Release drops one reference; the world is discarded with the last one.
func (r *WorldRegistry) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[key]
	if !exists {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if atomic.AddInt64(&entry.refCount, -1) <= 0 {
		delete(r.entries, key)
		entry.world = nil
		atomic.StoreInt64(&entry.refCount, 0)
	}
}

// ForceClose discards a world regardless of its reference count.
func (r *WorldRegistry) ForceClose(key string) {
	r.mu.Lock()
	entry, exists := r.entries[key]
	if exists {
		delete(r.entries, key)
	}
	r.mu.Unlock()

	if !exists {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.world = nil
	atomic.StoreInt64(&entry.refCount, 0)
}

// Status reports the reference count of a world, whether it is loaded and a summary.
func (r *WorldRegistry) Status(key string) (int64, bool, string) {
	r.mu.RLock()
	entry, exists := r.entries[key]
	r.mu.RUnlock()

	if !exists {
		return 0, false, ""
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()

	refCount := atomic.LoadInt64(&entry.refCount)
	if entry.world == nil {
		return refCount, false, ""
	}
	scene := entry.path
	if scene == "" {
		scene = "built-in"
	}
	summary := fmt.Sprintf("Scene: %s, Bodies: %d, Session: %d", scene, len(entry.world.Bodies), entry.world.Session.ID())
	return refCount, true, summary
}
