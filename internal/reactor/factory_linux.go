//go:build linux

package reactor

// New returns the platform Reactor implementation. On Linux this is an
// epoll-backed reactor; a port to another OS event primitive would add
// its own build-tagged New and nothing above this package would change.
func New() (Reactor, error) {
	return NewEpollReactor()
}
