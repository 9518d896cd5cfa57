// Package dedupe remembers recently handled keys so a frontend can drop
// events it receives twice within a configurable window.
package dedupe
