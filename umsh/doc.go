// Package umsh is the public API surface: init/exit lifecycle, the
// level-triggered status-change event, the mounted-device snapshot list,
// mount-flags passthrough, and device unmount/eject.
//
// It holds the process-wide mutable state as an explicit value rather than a
// package-level singleton: the Registry, the Reactor, and the event-slot index, all
// behind a single initialisable-once Core. There is no hidden static
// fallback — every exported function operates on an explicit Core value
// returned by Init, and Exit tears it down completely.
package umsh
