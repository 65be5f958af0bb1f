package config

import "reflect"

// Plan is the result of diffing the active config against a staged one for
// SWITCHCONFIG: which pools are reused untouched, which are
// drained and closed, and which are newly created.
type Plan struct {
	Identical bool
	Reused    []string
	Removed   []string
	Added     []string
}

// Diff compares old (active) against staged and produces the minimal-
// disruption transition plan. Two pools are "the same" for reuse purposes
// when their listen address, routing policy, backend membership and
// weights are unchanged; a change to any of those causes drain-and-recreate.
// Other fields (auth, db, timeout_ms, retry/ejection settings, hash_tag) are
// not compared, so a pool that differs only in them is reused as-is.
func Diff(oldCfg, staged *Config) Plan {
	if Equal(oldCfg, staged) {
		return Plan{Identical: true}
	}
	plan := Plan{}
	for name, oldPool := range oldCfg.Pools {
		newPool, ok := staged.Pools[name]
		if ok && poolsEquivalent(oldPool, newPool) {
			plan.Reused = append(plan.Reused, name)
			continue
		}
		plan.Removed = append(plan.Removed, name)
	}
	for name := range staged.Pools {
		if _, ok := oldCfg.Pools[name]; ok {
			if reused(plan.Reused, name) {
				continue
			}
		}
		plan.Added = append(plan.Added, name)
	}
	return plan
}

func reused(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// poolsEquivalent implements the pool reuse predicate: identical listen
// port, distribution policy, backend membership and weights.
func poolsEquivalent(a, b PoolConfig) bool {
	if a.ListenPort != b.ListenPort || a.Distribution != b.Distribution {
		return false
	}
	if a.IsCluster() {
		return a.ClusterName == b.ClusterName && sameStrings(a.ClusterHosts, b.ClusterHosts)
	}
	return sameStrings(a.Backends, b.Backends)
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Equal reports whether two Config values are identical for the purposes
// of the `-ERROR: The loaded and staged configs are identical.` check
//.
func Equal(a, b *Config) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
