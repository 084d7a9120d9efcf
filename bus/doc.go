// Package bus implements the mesh message bus: durable persistence of every
// message followed by synchronous in-process fan-out to subscribers.
//
// A message is persisted before any subscriber sees it, so handlers never
// observe a message that failed to commit. Fan-out runs in subscription
// order and is isolated per subscriber: an error or panic in one handler is
// logged, counted and reported in the DeliveryReport, and delivery
// continues with the next subscriber.
package bus
