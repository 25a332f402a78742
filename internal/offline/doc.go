// Package offline implements the offline resource cache manager: a versioned
// set of cache partitions populated on install, pruned on activate, and
// consulted by a per-request routing policy.
//
// Requests are classified as asset, page or other. Assets are cache-first with
// a placeholder image fallback; pages are network-first under a fixed timeout
// and fall back to the cached copy and then the offline splash page; other
// requests are cache-first with a plain network fallback. Host drives the
// install/activate lifecycle and decides which client sessions a version
// controls, mirroring how a browser runtime hosts a fetch interceptor.
package offline
