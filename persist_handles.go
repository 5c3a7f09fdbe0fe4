package relmem

import "github.com/maxBogovick/relmem/pkg/persist"

// OpenDomain opens (creating if absent) a plain CRUD table handle for
// T under name: durable storage with none of OpenAutonomous's
// version/CAS/audit/outbox machinery.
func OpenDomain[T any](e *Engine, name string) (*persist.DomainHandle[T], error) {
	return persist.OpenDomainHandle[T](e.session, name)
}

// OpenAutonomous opens (creating if absent) a versioned aggregate
// collection for T, built from a Draft (D) constructor and Patch (P)
// and Command (C) reducers, with audit, outbox, and idempotency tables
// maintained alongside the state table.
func OpenAutonomous[T, D, P, C any](e *Engine, name string, reducers persist.Reducers[T, D, P, C], intents persist.IntentMapper[C], retry persist.RetryPolicy) (*persist.AutonomousAggregate[T, D, P, C], error) {
	return persist.OpenAggregate(e.session, name, reducers, intents, retry)
}

// OpenAggregate names the same primitive as OpenAutonomous; the two
// are one implementation under two names.
func OpenAggregate[T, D, P, C any](e *Engine, name string, reducers persist.Reducers[T, D, P, C], intents persist.IntentMapper[C], retry persist.RetryPolicy) (*persist.AutonomousAggregate[T, D, P, C], error) {
	return OpenAutonomous(e, name, reducers, intents, retry)
}
