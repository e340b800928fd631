// Package tools wraps the six external collaborators the pipelines invoke.
//
// Every tool honors the same contract: consume one input artifact path,
// write one output artifact path, exit zero on success. The adapters here
// translate that contract into each binary's argument shape and, where a
// tool insists on naming its own output, locate the produced file and move
// it to the requested path. Nothing above this package knows how a binary
// is spelled.
//
// Command execution goes through the Executor interface so tests can stub
// process launches. Failures are classified into the services error
// taxonomy from the exit status and the captured output tail; the stage
// executor decides retry behavior from that classification alone.
package tools
