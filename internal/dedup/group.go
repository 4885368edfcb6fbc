package dedup

// Groups maps domain keys to the hosts sharing them. Keys iterate in the
// order they were created.
type Groups struct {
	order   []Key
	members map[Key][]string
}

// Keys returns the domain keys in creation order.
func (g *Groups) Keys() []Key {
	out := make([]Key, len(g.order))
	copy(out, g.order)
	return out
}

// Hosts returns the hosts grouped under key, in insertion order.
func (g *Groups) Hosts(key Key) []string {
	return g.members[key]
}

// Len returns the number of domain keys.
func (g *Groups) Len() int {
	return len(g.order)
}

type classified struct {
	host string
	key  Key
}

// BuildGroups classifies hosts and groups them by domain key. Hosts that
// fail classification are returned as *HostError and left out.
//
// Keys are created for every bucket (1, 2 then 3 delimiters) before any
// host is appended, so a host whose key was first created by another
// bucket merges into that group.
func BuildGroups(hosts []string) (*Groups, []*HostError) {
	var buckets [3][]classified
	var failures []*HostError

	for _, host := range hosts {
		key, err := classify(host)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		n := Delimiters(host)
		buckets[n-1] = append(buckets[n-1], classified{host: host, key: key})
	}

	g := &Groups{members: make(map[Key][]string)}

	for _, bucket := range buckets {
		for _, c := range bucket {
			if _, ok := g.members[c.key]; !ok {
				g.members[c.key] = []string{}
				g.order = append(g.order, c.key)
			}
		}
	}

	for _, bucket := range buckets {
		for _, c := range bucket {
			g.members[c.key] = append(g.members[c.key], c.host)
		}
	}

	return g, failures
}
