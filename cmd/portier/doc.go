// Command portier runs the Portier edge proxy.
//
// Portier forwards incoming HTTP requests to configured backends,
// selected by the first path segment, after a two-tier authentication
// check and a header-rewrite step.
//
// Install:
//
//	go install github.com/portierproxy/portier/cmd/portier@latest
//
// Usage:
//
//	portier run --servers ./servers.json --listen :8080
package main
