// Package server hosts the Fiber HTTP service and its middleware chain:
// panic recovery, request ids, and the client session cookie the offline
// lifecycle host uses to decide which sessions a cache version controls.
// Anything outside /api/ and /-/ is handed to a FetchHandler, so the offline
// interceptor sees the same traffic a browser fetch hook would. The shared
// upstream http.Client and hop-by-hop header filtering also live here.
package server
