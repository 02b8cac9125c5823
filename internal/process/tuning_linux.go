//go:build linux

package process

import (
	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

var niceByPriority = map[Priority]int{
	PriorityIdle:        19,
	PriorityBelowNormal: 10,
	PriorityNormal:      0,
	PriorityAboveNormal: -5,
	PriorityHigh:        -10,
	PriorityRealTime:    -20,
}

func setPriority(pid int, p Priority) error {
	return unix.Setpriority(unix.PRIO_PROCESS, pid, niceByPriority[p])
}

func getAffinity(pid int) (uint64, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(pid, &set); err != nil {
		return 0, err
	}
	var mask uint64
	for cpu := 0; cpu < 64; cpu++ {
		if set.IsSet(cpu) {
			mask |= 1 << cpu
		}
	}
	return mask, nil
}

// setAffinity applies mask to every thread. sched_setaffinity only affects
// the thread it is given.
func setAffinity(pid int, mask uint64) error {
	var set unix.CPUSet
	set.Zero()
	for cpu := 0; cpu < 64; cpu++ {
		if mask&(1<<cpu) != 0 {
			set.Set(cpu)
		}
	}

	tids := []int{pid}
	if fs, err := procfs.NewDefaultFS(); err == nil {
		if threads, err := fs.AllThreads(pid); err == nil && len(threads) > 0 {
			tids = tids[:0]
			for _, t := range threads {
				tids = append(tids, t.PID)
			}
		}
	}

	for _, tid := range tids {
		if err := unix.SchedSetaffinity(tid, &set); err != nil {
			if err == unix.ESRCH && tid != pid {
				// thread exited meanwhile
				continue
			}
			return err
		}
	}
	return nil
}

// setMaxResident sets the RLIMIT_RSS soft limit, leaving the hard limit
// alone so it can be raised again.
func setMaxResident(pid int, maxBytes uint64) error {
	var old unix.Rlimit
	if err := unix.Prlimit(pid, unix.RLIMIT_RSS, nil, &old); err != nil {
		return err
	}
	limit := unix.Rlimit{Cur: maxBytes, Max: old.Max}
	if maxBytes == 0 || maxBytes > old.Max {
		limit.Cur = old.Max
	}
	return unix.Prlimit(pid, unix.RLIMIT_RSS, &limit, nil)
}
