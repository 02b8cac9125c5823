// Package session multiplexes process workers onto display surfaces.
//
// A Registry maps job identifiers to pinned surfaces. Start opens the pinned
// surface of a job, Display renders a worker into the surface of its job or,
// for workers without a started job, into a fresh surface that closes itself
// when the worker completes. Stop closes a job's surface.
//
// Presentation is best effort: apart from Start with an empty job id, every
// abnormal call (duplicate Start, Stop of an unknown job, Display after the
// application exited) is a silent no-op.
package session
