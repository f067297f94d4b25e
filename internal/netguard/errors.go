package netguard

import (
	"errors"
	"fmt"
)

// ErrNoAddresses is returned when a lookup succeeded but produced no usable
// addresses. Distinct from a policy denial.
var ErrNoAddresses = errors.New("hostname resolved to no addresses")

// ErrTooManyRedirects aborts a fetch whose redirect chain exceeded the hop
// limit.
var ErrTooManyRedirects = errors.New("too many redirects")

// BlockedTargetError is a policy denial: the hostname or one of its resolved
// addresses fell in a disallowed range, or the hostname was not on the
// allowlist. Rule carries the machine-readable identifier for audit logging.
// It is never produced for transport failures; those pass through unchanged
// so the caller can tell "denied" from "the check could not complete".
type BlockedTargetError struct {
	Hostname string
	Address  string
	Rule     string
}

func (e *BlockedTargetError) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("blocked target %s (%s): %s", e.Hostname, e.Address, e.Rule)
	}
	return fmt.Sprintf("blocked target %s: %s", e.Hostname, e.Rule)
}

// IsBlockedTarget reports whether err (or anything it wraps) is a policy
// denial rather than a transport error.
func IsBlockedTarget(err error) bool {
	var bte *BlockedTargetError
	return errors.As(err, &bte)
}
