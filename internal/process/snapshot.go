package process

// snapshot is what Refresh reads from the operating system.
type snapshot struct {
	refreshed  bool
	name       string
	responding bool
	counters   Counters
	modules    []Module
	threads    []Thread
}
