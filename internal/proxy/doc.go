// Package proxy bridges Fiber requests to the worker runtime: it turns each
// incoming request into an *http.Request for the application, lets the
// controlling worker answer it and sends everything the worker declines
// straight to the network.
package proxy
