//go:build linux

package channel

import (
	"log"
	"os/signal"
	"syscall"

	"github.com/objcached/objcached/wire"
)

// ignoreSigpipe installs SIG_IGN for SIGPIPE for the supervisor's
// lifetime — a client hanging up mid-reply must not kill the daemon, per
// §4.9 — and returns a closure that resets the signal to its default
// disposition (matching the prior state, since nothing else in this
// process installs a SIGPIPE handler of its own).
func ignoreSigpipe() (restore func()) {
	signal.Ignore(syscall.SIGPIPE)
	return func() { signal.Reset(syscall.SIGPIPE) }
}

// sendDetach sends one unsolicited Detach frame to c, non-blocking, with
// send failure ignored — per §4.10 so a stuck peer never delays the rest
// of the broadcast.
func sendDetach(c *conn) {
	if err := wire.Encode(c.raw, wire.KindDetach, nil, nil, wire.NonBlocking|wire.IgnoreSendFailure); err != nil {
		log.Printf("detach broadcast to session %d: %v", c.sessionID, err)
	}
}
