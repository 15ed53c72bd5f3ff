// Package pipeline runs a picked image through archive, encode, predict and
// persist as one sequential unit of work.
//
// Each submission moves Idle → Archiving → Encoding → Predicting →
// Persisting → Done, or to Aborted from any non-terminal step. The history
// insert is the single commit point: nothing is written to the store unless
// prediction succeeded. Archived copies are not removed when a later step
// fails.
package pipeline
