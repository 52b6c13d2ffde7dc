// Package host plays the browser's part for a single-origin worker: it runs
// each new worker's Install, decides when the worker takes control, retires
// the worker it replaces and routes intercepted requests to whichever worker
// currently controls the application.
package host
