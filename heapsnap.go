// ABOUTME: Root package of heapsnap carrying version information and package documentation
// ABOUTME: The evaluation engine itself lives in the sub-packages

// Package heapsnap evaluates heap abstractions against recorded execution
// traces. A trace of allocation, field and thread events is replayed into a
// concrete heap graph; an abstraction strategy maps every object to an
// abstract value; sampled snapshots and queries measure how precisely the
// abstraction answers a property such as thread escape.
package heapsnap

// Version is the semantic version of the heapsnap tool
const Version = "0.1.0-dev"
