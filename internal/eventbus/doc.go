// Package eventbus is the in-process event backbone of angeld.
//
// Producers publish typed, prioritized events; a single dispatch loop
// fans them out to subscribers registered by event type and by priority,
// in published (FIFO) order. Handler failures are contained: a panicking
// or erroring handler never stops delivery to the remaining handlers or
// processing of later events.
//
// The bus retains a bounded in-memory history ring for queries; nothing
// is persisted across restarts.
package eventbus
