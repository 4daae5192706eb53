// Package page pairs one backing block with a local allocator.
//
// Two page kinds exist:
//
//   - Page: a free-list page; Allocate and Free delegate to an arena.Arena
//   - BumpPage: a linear page with a mutex-guarded cursor, reclaimed in bulk by
//     Reset and never freed per allocation
//
// Both return a Record describing the usable, aligned range. Records name
// their owning page by index, never by pointer, so pools can grow their page
// tables freely.
package page
