// Package pipeline implements the gated release sequencer.
//
// A pipeline is a declarative, ordered [Plan] of tagged steps
// (source, scan, gate, build, deploy). [Sequencer.Execute] walks the plan one
// step at a time: non-gate steps run through the [Stage] capability and hand
// their [Artifact] to the next step; gate steps suspend the [Run] until a
// human decision arrives through [Run.ResolveGate].
//
// # Run lifecycle
//
//	pending -> running -> awaiting_approval -> running -> ... -> succeeded
//	                \-> failed          \-> rejected
//	any non-terminal state -> aborted
//
// Terminal states never change again. Gates are independent instances keyed
// by their step name, and the first decision recorded on a gate is final.
package pipeline
