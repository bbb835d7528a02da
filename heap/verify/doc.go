// Package verify checks the structural invariants of a heap.
//
// # Overview
//
// The checks are meant for tests and for the scavctl tool: they walk every
// page the heap owns and report the first violation as a *ValidationError.
//
// Validation categories:
//   - Pages: owner, flags and layout of every page of every space
//   - Objects: every header is a known map and no object crosses its page
//   - Pointers: every strong or weak slot points at the start of a live
//     object outside from-space
//
// # Quick Start
//
//	stats, err := collector.Collect(roots)
//	if err != nil {
//	    return err
//	}
//	if err := verify.AllInvariants(h); err != nil {
//	    fmt.Printf("heap corrupt after %s: %v\n", stats, err)
//	}
//
// # Forwarding headers
//
// A forwarding header outside of a collection is always reported. Collect
// restores the maps of large survivors and releases from-space before it
// returns, so a heap that passes AllInvariants right after Collect has no
// stale forwarding pointers left.
package verify
