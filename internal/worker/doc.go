// Package worker implements one generation of the offline cache: the
// install/activate lifecycle that prepares a versioned cache store, and the
// fetch interception policy that answers the page's GET requests from that
// store, from the network, or not at all.
//
// A Worker is bound to a single cache name (the version tag). The host runtime
// (package host) drives Install and Activate and routes requests to whichever
// worker currently controls the page.
package worker
