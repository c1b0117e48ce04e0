// Package harness runs a test binary's discovered cases end to end.
//
// A run redirects standard output to standard error so that test code cannot
// corrupt the TAP stream, discovers the cases of the running executable,
// executes them one at a time and reports every result as it completes.
package harness
