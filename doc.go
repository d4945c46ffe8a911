// Package tarn is a memoization and caching subsystem for lazy,
// purely-functional expression evaluation.
//
// The packages layer bottom-up: sym interns names, term builds and
// interns expression trees, eval forces thunks under environment frames,
// hash computes structural digests without forcing, codec serializes
// forced values canonically, and cache provides the two cache tiers the
// evaluator consults on every thunk demand. This package ties them
// together as a Session.
package tarn
