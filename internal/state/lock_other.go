//go:build !unix

package state

import "os"

// Platforms without flock rely on the in-process lock only.
func tryLock(*os.File) error { return nil }

func unlock(*os.File) {}
