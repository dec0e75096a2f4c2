package iiwa_guard

import (
	"go.viam.com/rdk/logging"
)

// worlds is shared by every resource of the module process.
var worlds = NewWorldRegistry()

// GetSharedWorld returns the collision world for sceneFile and the key to release it with.
func GetSharedWorld(sceneFile string, logger logging.Logger) (*SharedWorld, string, error) {
	return worlds.Acquire(sceneFile, logger)
}

func ReleaseSharedWorld(key string) {
	worlds.Release(key)
}

func GetWorldStatus(key string) (int64, bool, string) {
	return worlds.Status(key)
}
