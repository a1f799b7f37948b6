package channel

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// ErrBadLocator is returned by Listen for a string that names neither the
// "unix=" nor the "tcp=" scheme of §6's endpoint locator grammar.
var ErrBadLocator = errors.New("channel: endpoint locator must be unix=<path> or tcp=<host:port>")

// Listen binds locator, a string of the form "unix=<path>" or
// "tcp=<host>:<port>". Unix sockets are created with mode 0600; an
// existing socket file at path is removed first, matching the usual
// daemon-restart convention. An ill-formed locator is a fatal startup
// error, per §6. The listen backlog is the one net.Listen requests, the
// system's maximum (somaxconn on Linux); it is not set to 32, and Go's net
// package exposes no way to choose it.
func Listen(locator string) (net.Listener, error) {
	switch {
	case strings.HasPrefix(locator, "unix="):
		path := strings.TrimPrefix(locator, "unix=")
		if path == "" {
			return nil, ErrBadLocator
		}
		os.Remove(path)
		ln, err := net.Listen("unix", path)
		if err != nil {
			return nil, err
		}
		if err := os.Chmod(path, 0600); err != nil {
			ln.Close()
			return nil, err
		}
		return ln, nil
	case strings.HasPrefix(locator, "tcp="):
		addr := strings.TrimPrefix(locator, "tcp=")
		if addr == "" {
			return nil, ErrBadLocator
		}
		return net.Listen("tcp", addr)
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadLocator, locator)
	}
}
