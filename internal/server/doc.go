// Package server hosts the Fiber HTTP service and its middleware chain: request
// IDs, panic recovery and the catch-all route that hands every non-diagnostic
// request to the proxy handler. It also owns the shared upstream http.Client.
// Diagnostic endpoints under /-/ live in the routes subpackage.
package server
