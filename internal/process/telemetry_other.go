//go:build !linux

package process

import "time"

func readSnapshot(_ int, prev snapshot) (snapshot, error) {
	return prev, ErrUnsupported
}

func processAlive(pid int) bool {
	return signalAlive(pid)
}

func platformStartTime(int) (time.Time, error) {
	return time.Time{}, ErrUnsupported
}
