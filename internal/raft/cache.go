package raft

// CacheManager is the out-of-scope collaborator that stores key/value
// data and applies committed log entries. The actor treats it as
// opaque: reads never go through the command queue, only ApplyLog (on
// commit) and the Route* calls used during migration
// planning/execution.
type CacheManager interface {
	ApplyLog(req WriteRequest, index uint64) error
	RouteKeys(scope *string) []string
	RouteMGet(keys []string) []*string
	RouteMSet(entries map[string]string) error
	RouteDelete(keys []string) error
}
