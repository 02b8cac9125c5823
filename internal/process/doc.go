// Package process wraps a single operating system process behind a
// substitutable contract.
//
// The contract is split into role interfaces so callers depend only on what
// they use:
//
//   - Telemetry: identity, exit state and resource counters (refreshed on request)
//   - Tuning: priority, affinity, working-set bounds and callback delivery
//   - Lifecycle: Start, Kill, CloseMainWindow, WaitForExit, Exited, Close
//   - Streams: stdin/stdout/stderr, synchronous or as line events
//
// Handle composes all four. OSHandle is the real implementation; package
// processtest provides a scripted fake and a conformance suite both pass.
//
// Asynchronous callbacks (output lines, exit) are delivered through the
// handle's Dispatcher when one is set:
//
//	q := process.NewQueueDispatcher(64)
//	defer q.Close()
//
//	info, _ := process.ParseCommand("ffmpeg -i in.mkv -c:v libx264 out.mp4")
//	info.RedirectStderr = true
//	h := process.New(info, process.WithDispatcher(q))
//	h.OnErrorData(func(ev process.LineEvent) { fmt.Println(ev.Line) })
//	if _, err := h.Start(); err != nil {
//	    return err
//	}
//	_ = h.BeginErrorReadLine()
//	h.WaitForExit(process.Infinite)
package process
