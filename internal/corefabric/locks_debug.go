//go:build duocapture_debuglocks

package corefabric

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync"
)

// goroutineID extracts the numeric goroutine id from the runtime stack
// trace header ("goroutine 123 [running]:"). This is the same
// fmt.Sscanf-over-runtime.Stack trick used by several Go deadlock
// detectors; it is only compiled into debug builds.
func goroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	fields := bytes.Fields(buf)
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.ParseUint(string(fields[1]), 10, 64)
	return id
}

var rankStacks sync.Map // goroutine id -> []LockRank

func checkAcquire(rank LockRank) {
	gid := goroutineID()
	stack, _ := rankStacks.LoadOrStore(gid, &[]LockRank{})
	s := stack.(*[]LockRank)
	if len(*s) > 0 {
		held := (*s)[len(*s)-1]
		if rank <= held {
			panic(fmt.Sprintf("corefabric: lock order violation: acquiring rank %d while holding rank %d", rank, held))
		}
	}
	*s = append(*s, rank)
}

func checkRelease(rank LockRank) {
	gid := goroutineID()
	v, ok := rankStacks.Load(gid)
	if !ok {
		return
	}
	s := v.(*[]LockRank)
	if len(*s) == 0 {
		return
	}
	*s = (*s)[:len(*s)-1]
	if len(*s) == 0 {
		rankStacks.Delete(gid)
	}
	_ = rank
}
