//go:build !duocapture_debuglocks

package corefabric

// checkAcquire/checkRelease are no-ops in production builds; the rank
// check only runs under the duocapture_debuglocks build tag (see
// locks_debug.go) per §5's "debug-build check" requirement for P5.
func checkAcquire(LockRank) {}
func checkRelease(LockRank) {}
