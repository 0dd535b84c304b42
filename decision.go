package authcache

// Decision is the outcome of an authorization check.
//
// Unknown means the remote authority could not or would not decide,
// and the caller should fall back to its own policy.
// Unknown outcomes are never cached.
type Decision int

const (
	Unknown Decision = iota
	Granted
	Denied
)

func (d Decision) String() string {
	switch d {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}
