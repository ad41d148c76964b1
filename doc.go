// Package kiln is the runtime core of a microservice framework. A Container
// hosts one service's lifecycle: it owns a set of pluggable dependency
// providers, spawns an isolated, lifecycle-managed worker task per inbound
// call, and coordinates orderly startup, graceful stop and time-bounded
// forced kill.
//
// Dependency providers come in two roles. Entrypoints trigger work: they
// react to external events (a listener, a timer, a consumer) and call
// Container.SpawnWorker. Injections supply resources to workers: they attach
// to the worker context before the call and observe its outcome afterwards.
// During graceful stop, entrypoints always stop before injections, with the
// worker pool fully drained in between, so no in-flight call ever loses a
// resource it was given.
//
// Every concurrent task a container runs is registered until it completes.
// An error escaping a managed task kills the whole container: the runtime
// fails fast rather than limping along half-alive. Callers observe terminal
// state through Container.Wait, which returns the kill cause or nil after a
// clean stop.
//
// The Runner serves several services at once, fanning Start, Stop, Kill and
// Wait out over one container per service.
package kiln
