// Package format turns a provider answer into deliverable segments.
//
// Answers shorter than the segment limit become one segment for the channel
// the question came from. Longer answers move to a direct channel, split into
// consecutive chunks no longer than the limit, and the origin channel gets a
// short notice instead. Lengths are counted in runes.
package format
