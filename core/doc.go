// Package core contains the bot event delivery domain: event and outcome
// types, store and transport contracts, the fan-out producer, the delivery
// worker and its retry policies. Storage and HTTP adapters depend on this
// package; core does not depend on them.
package core
