package notify

import (
	"github.com/rs/zerolog/log"

	"github.com/willowlend/intake-client/pkg/invalidation"
)

// Push message types emitted by the backend.
const (
	TypeAssessmentComplete = "assessment_complete"
	TypeDecisionMade       = "decision_made"
	TypeDocumentProcessed  = "document_processed"
	TypeNewApplication     = "new_application"
)

// Dispatcher maps push message types to cache-invalidation keys through a
// fixed table and publishes them on the bus. Unknown types are ignored.
// It implements Sink; connection errors are deliberately dropped because the
// polling fallback covers correctness.
type Dispatcher struct {
	bus   *invalidation.Bus
	table map[string][]invalidation.Key
	scope string
}

var _ Sink = &Dispatcher{}

// NewApplicationDispatcher builds the sink for the applicant-scoped channel
// (one application and its owner).
func NewApplicationDispatcher(bus *invalidation.Bus, applicationID, userID string) *Dispatcher {
	return &Dispatcher{
		bus:   bus,
		scope: "application",
		table: map[string][]invalidation.Key{
			TypeAssessmentComplete: {
				invalidation.ApplicationDetail(applicationID),
				invalidation.Notifications(userID),
			},
			TypeDecisionMade: {
				invalidation.ApplicationDetail(applicationID),
				invalidation.Notifications(userID),
			},
			TypeDocumentProcessed: {
				invalidation.ApplicationDocuments(applicationID),
			},
		},
	}
}

// NewServicerDispatcher builds the sink for the servicer queue channel.
func NewServicerDispatcher(bus *invalidation.Bus, userID string) *Dispatcher {
	return &Dispatcher{
		bus:   bus,
		scope: "servicer",
		table: map[string][]invalidation.Key{
			TypeNewApplication: {
				invalidation.ServicerQueue,
				invalidation.Notifications(userID),
			},
			TypeAssessmentComplete: {
				invalidation.ServicerQueue,
				invalidation.Notifications(userID),
			},
		},
	}
}

func (d *Dispatcher) OnOpen() {
	log.Debug().Str("component", "notify").Str("scope", d.scope).Msg("dispatch channel open")
}

func (d *Dispatcher) OnMessage(msg PushMessage) {
	keys, ok := d.table[msg.Type]
	if !ok {
		log.Debug().Str("component", "notify").Str("scope", d.scope).Str("type", msg.Type).Msg("ignoring unmapped push type")
		return
	}
	if err := d.bus.Publish(keys...); err != nil {
		log.Warn().Err(err).Str("component", "notify").Str("scope", d.scope).Str("type", msg.Type).Msg("publish invalidation failed")
	}
}

// OnError is intentionally a no-op beyond logging: the push channel never
// surfaces a user-visible error and the poller remains authoritative.
func (d *Dispatcher) OnError(err error) {
	log.Debug().Err(err).Str("component", "notify").Str("scope", d.scope).Msg("push channel error ignored")
}
