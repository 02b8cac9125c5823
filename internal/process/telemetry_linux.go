//go:build linux

package process

import (
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/procfs"
)

// userHZ is the kernel clock tick rate exposed through /proc.
const userHZ = 100

func ticks(n uint) time.Duration {
	return time.Duration(n) * time.Second / userHZ
}

func readSnapshot(pid int, prev snapshot) (snapshot, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return prev, err
	}
	p, err := fs.Proc(pid)
	if err != nil {
		return prev, err
	}
	stat, err := p.Stat()
	if err != nil {
		return prev, err
	}
	status, err := p.NewStatus()
	if err != nil {
		return prev, err
	}

	snap := snapshot{
		refreshed:  true,
		name:       stat.Comm,
		responding: isRunnable(stat.State),
	}
	// comm is cut at 15 bytes
	if len(stat.Comm) >= 15 {
		if exe, err := p.Executable(); err == nil && strings.HasPrefix(filepath.Base(exe), stat.Comm) {
			snap.name = filepath.Base(exe)
		}
	}

	paged := status.VmData + status.VmStk
	c := Counters{
		WorkingSet:              status.VmRSS,
		PeakWorkingSet:          status.VmHWM,
		VirtualMemory:           status.VmSize,
		PeakVirtualMemory:       status.VmPeak,
		PagedMemory:             paged,
		PeakPagedMemory:         max(prev.counters.PeakPagedMemory, paged),
		NonpagedMemory:          status.VmLck + status.VmPin,
		PrivateMemory:           status.RssAnon + status.VmSwap,
		UserProcessorTime:       ticks(stat.UTime),
		PrivilegedProcessorTime: ticks(stat.STime),
		ThreadCount:             stat.NumThreads,
	}
	c.TotalProcessorTime = c.UserProcessorTime + c.PrivilegedProcessorTime
	if n, err := p.FileDescriptorsLen(); err == nil {
		c.HandleCount = n
	}
	snap.counters = c

	if maps, err := p.ProcMaps(); err == nil {
		snap.modules = modulesFromMaps(maps)
	}

	if threads, err := fs.AllThreads(pid); err == nil {
		for _, t := range threads {
			ts, err := t.Stat()
			if err != nil {
				continue
			}
			snap.threads = append(snap.threads, Thread{
				ID:         t.PID,
				State:      ts.State,
				UserTime:   ticks(ts.UTime),
				SystemTime: ticks(ts.STime),
			})
		}
	}

	return snap, nil
}

// isRunnable treats zombie, stopped and dead processes as not responding.
func isRunnable(state string) bool {
	switch state {
	case "Z", "T", "t", "X", "x":
		return false
	}
	return true
}

// modulesFromMaps folds the file-backed mappings of a process into one
// Module per image.
func modulesFromMaps(maps []*procfs.ProcMap) []Module {
	byPath := make(map[string]*Module)
	for _, m := range maps {
		if !strings.HasPrefix(m.Pathname, "/") {
			continue
		}
		mod, ok := byPath[m.Pathname]
		if !ok {
			mod = &Module{
				Name:        filepath.Base(m.Pathname),
				Path:        m.Pathname,
				BaseAddress: m.StartAddr,
			}
			byPath[m.Pathname] = mod
		}
		if m.StartAddr < mod.BaseAddress {
			mod.BaseAddress = m.StartAddr
		}
		mod.Size += uint64(m.EndAddr - m.StartAddr)
	}

	modules := make([]Module, 0, len(byPath))
	for _, mod := range byPath {
		modules = append(modules, *mod)
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].BaseAddress < modules[j].BaseAddress })
	return modules
}

func processAlive(pid int) bool {
	p, err := procfs.NewProc(pid)
	if err != nil {
		return false
	}
	stat, err := p.Stat()
	if err != nil {
		return false
	}
	return stat.State != "Z" && stat.State != "X" && stat.State != "x"
}

func platformStartTime(pid int) (time.Time, error) {
	p, err := procfs.NewProc(pid)
	if err != nil {
		return time.Time{}, err
	}
	stat, err := p.Stat()
	if err != nil {
		return time.Time{}, err
	}
	secs, err := stat.StartTime()
	if err != nil {
		return time.Time{}, err
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*float64(time.Second))), nil
}
