// Package cache defines the partitioned response store behind the offline
// cache manager. A Store holds named partitions; each partition maps a request
// key ("GET /path?query") to an immutable StoredResponse snapshot. The disk
// backend lays entries out as StoragePath/<partition>/<sha1(key)>.entry and
// writes them with temp file + rename so readers never observe a torn entry.
// The memory backend serves tests and ephemeral deployments.
package cache
