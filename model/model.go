// Package model defines the data types shared by the wire protocol and the
// backend port: object identifiers, object and cache info, and the
// capability mask advertised at handshake.
package model

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
)

// Algorithm names the hash function an ObjectID's digest was produced with.
// The wire form always carries the algorithm tag so a backend may refuse
// digests it does not recognize.
type Algorithm uint8

const (
	AlgoUnknown Algorithm = iota
	AlgoSHA256
	AlgoSHA512
)

// Size returns the digest width, in bytes, for a known algorithm. It
// returns 0 for AlgoUnknown since the width of an unrecognized algorithm
// cannot be inferred from the wire.
func (a Algorithm) Size() int {
	switch a {
	case AlgoSHA256:
		return sha256.Size
	case AlgoSHA512:
		return sha512.Size
	default:
		return 0
	}
}

func (a Algorithm) String() string {
	switch a {
	case AlgoSHA256:
		return "sha256"
	case AlgoSHA512:
		return "sha512"
	default:
		return "unknown"
	}
}

// ErrBadObjectID is returned by ParseObjectID when the wire bytes do not
// describe a structurally valid identifier. The channel converts this into
// a MALFORMED status and never reaches the backend.
var ErrBadObjectID = errors.New("model: malformed object id")

// ObjectID is a fixed-width content hash with an explicit algorithm tag.
type ObjectID struct {
	Algo   Algorithm
	Digest []byte
}

// ParseObjectID validates that digest is the exact width the algorithm
// requires. An unrecognized algorithm, or a digest of the wrong length, is
// reported as ErrBadObjectID — this is the channel-level "parseable hash"
// precondition referenced throughout the dispatcher.
func ParseObjectID(algo Algorithm, digest []byte) (ObjectID, error) {
	sz := algo.Size()
	if sz == 0 || len(digest) != sz {
		return ObjectID{}, ErrBadObjectID
	}
	cp := make([]byte, sz)
	copy(cp, digest)
	return ObjectID{Algo: algo, Digest: cp}, nil
}

func (id ObjectID) String() string {
	return id.Algo.String() + ":" + hex.EncodeToString(id.Digest)
}

// Equal reports whether two object ids name the same algorithm and digest.
func (id ObjectID) Equal(other ObjectID) bool {
	if id.Algo != other.Algo || len(id.Digest) != len(other.Digest) {
		return false
	}
	for i := range id.Digest {
		if id.Digest[i] != other.Digest[i] {
			return false
		}
	}
	return true
}

// ObjectType is the fixed set of type tags the message schema recognizes.
// The set and the byte values are wire-stable and must be preserved
// verbatim; never renumber existing entries.
type ObjectType uint8

const (
	TypeUnknown ObjectType = iota
	TypeRegular
	TypeCatalog
	TypePinned
	TypeVolatile
)

func (t ObjectType) String() string {
	switch t {
	case TypeRegular:
		return "regular"
	case TypeCatalog:
		return "catalog"
	case TypePinned:
		return "pinned"
	case TypeVolatile:
		return "volatile"
	default:
		return "unknown"
	}
}

// SizeUnknown marks an ObjectInfo.Size that isn't known yet, e.g. for an
// in-flight transaction that hasn't committed.
const SizeUnknown int64 = -1

// ObjectInfo describes one object as reported by the backend.
type ObjectInfo struct {
	ID          ObjectID
	Type        ObjectType
	Size        int64
	Pinned      bool
	Description string
}

// CacheInfo summarizes overall backend capacity and usage.
type CacheInfo struct {
	Capacity int64
	Used     int64
	Pinned   int64
	NoShrink bool
}

// Capability is a bit in the handshake mask advertising an optional request
// kind the backend implements.
type Capability uint32

const (
	CapRefcount   Capability = 1 << 0
	CapShrink     Capability = 1 << 1
	CapInfo       Capability = 1 << 2
	CapList       Capability = 1 << 3
	CapObjectInfo Capability = 1 << 4
)

var capNames = map[string]Capability{
	"refcount":    CapRefcount,
	"shrink":      CapShrink,
	"info":        CapInfo,
	"list":        CapList,
	"object-info": CapObjectInfo,
}

// ParseCapability looks up a capability by its config/handshake name.
func ParseCapability(name string) (Capability, bool) {
	c, ok := capNames[name]
	return c, ok
}

// Has reports whether mask advertises capability c.
func (mask Capability) Has(c Capability) bool { return mask&c != 0 }

// Status is the fixed enumeration every reply's status field is drawn from.
// The channel produces OK and MALFORMED itself; a backend supplies the rest.
type Status uint8

const (
	StatusOK Status = iota
	StatusMalformed
	StatusIO
	StatusNoSupport
	StatusNoSpace
	StatusNoEntry
	StatusOutOfBounds
	StatusDenied
	nstatus
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusMalformed:
		return "MALFORMED"
	case StatusIO:
		return "IO"
	case StatusNoSupport:
		return "NOSUPPORT"
	case StatusNoSpace:
		return "NOSPACE"
	case StatusNoEntry:
		return "NOENTRY"
	case StatusOutOfBounds:
		return "OUTOFBOUNDS"
	case StatusDenied:
		return "DENIED"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether s is one of the fixed enumeration members.
func (s Status) Valid() bool { return s < nstatus }

// ListRecord is one entry in a paginated listing reply.
type ListRecord struct {
	ID          ObjectID
	Pinned      bool
	Description string
}
