// Package opus wraps the libopus encoder used by the encoding pool.
//
// Each Encoder owns one native encoder state and is used by a single job.
// Close releases it; encoding afterwards fails with ErrClosed.
//
// Lookahead is the delay libopus adds at the start of its output. It is
// written to the Ogg identification header as pre-skip so players can drop
// it.
package opus
