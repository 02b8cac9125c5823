//go:build !linux

package process

func setPriority(int, Priority) error { return ErrUnsupported }

func getAffinity(int) (uint64, error) { return 0, ErrUnsupported }

func setAffinity(int, uint64) error { return ErrUnsupported }

func setMaxResident(int, uint64) error { return ErrUnsupported }
