// Package invalidation carries staleness signals from the push channel and
// the polling fallback to the surrounding data layer. Invalidation is
// idempotent: marking the same key stale twice is equivalent to once.
package invalidation

// Key identifies one cached resource scope.
type Key string

func ApplicationDetail(applicationID string) Key {
	return Key("application:" + applicationID)
}

func ApplicationDocuments(applicationID string) Key {
	return Key("application:" + applicationID + ":documents")
}

func Notifications(userID string) Key {
	return Key("notifications:" + userID)
}

// ServicerQueue is the shared work queue of the servicer view.
const ServicerQueue = Key("servicer:queue")
