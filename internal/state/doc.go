// Package state maintains per-(device, module, kind) previous-state
// cells and classifies record transitions into change events.
//
// Updates to a single key are serialized; different keys run in
// parallel. Each cell keeps a bounded FIFO history of the change
// events it produced.
package state
