package cache

// Policy controls cache read/write behavior.
type Policy struct {
	Read  bool
	Write bool
}

// PolicyOptions exposes cache-related flags used to derive a Policy.
type PolicyOptions interface {
	IsNoCache() bool
	IsRefresh() bool
}

// PolicyFor builds a cache policy from options.
// A refresh skips reads but still repopulates the cache.
func PolicyFor(opts PolicyOptions) Policy {
	if opts == nil {
		return Policy{Read: true, Write: true}
	}
	if opts.IsNoCache() {
		return Policy{}
	}
	if opts.IsRefresh() {
		return Policy{Write: true}
	}
	return Policy{Read: true, Write: true}
}
