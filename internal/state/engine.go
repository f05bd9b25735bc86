package state

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/rackwise/rackwise-core/internal/canonical"
	"github.com/rackwise/rackwise-core/internal/decode"
	"github.com/rackwise/rackwise-core/internal/infrastructure/logging"
)

const (
	// historyCap bounds the per-key change history.
	historyCap = 100

	// Update thresholds for sensor readings.
	tempHumThreshold = 0.01
	noiseThreshold   = 1.0
)

// cell holds one key's last payload and change history. The mutex
// serializes updates to the key.
type cell struct {
	mu        sync.Mutex
	payload   canonical.Payload
	timestamp time.Time
	history   []canonical.ChangeEvent
}

// Engine tracks previous state per (deviceId, moduleNumber, messageKind)
// and annotates records with the changes since the last observation.
//
// Thread Safety: Update calls on different keys run in parallel; calls
// on the same key are serialized through the cell mutex.
type Engine struct {
	log *logging.Logger

	mu    sync.RWMutex
	cells map[string]*cell

	now func() time.Time
}

// NewEngine creates a state engine.
func NewEngine(log *logging.Logger) *Engine {
	return &Engine{
		log:   log.With("component", "state"),
		cells: make(map[string]*cell),
		now:   time.Now,
	}
}

// Update diffs the record against the key's previous state, annotates
// it with change events, and stores the new state.
//
// For RFID records the payload is additionally filtered to carry one
// rfidData entry per change; a record with no changes carries an empty
// rfidData list. Other kinds keep their payload and gain PreviousState.
//
// Returns:
//   - error: ErrStateFailed when the payload shape does not match the
//     record's message kind; the record is left unmodified
func (e *Engine) Update(rec *canonical.Record) error {
	if !tracked(rec.MessageKind) {
		return nil
	}

	c := e.cell(rec.Key())
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		changes []canonical.ChangeEvent
		err     error
	)
	switch rec.MessageKind {
	case decode.KindRfid:
		changes, err = e.updateRfid(c, rec)
	case decode.KindTempHum:
		changes, err = e.updateTempHum(c, rec)
	case decode.KindNoise:
		changes, err = e.updateNoise(c, rec)
	case decode.KindDoor:
		changes, err = e.updateDoor(c, rec)
	case decode.KindColor, decode.KindColorQueryAck:
		changes, err = e.updateColor(c, rec)
	default:
		changes, err = e.updateGeneric(c, rec)
	}
	if err != nil {
		return err
	}

	rec.Changes = changes
	c.history = append(c.history, changes...)
	if len(c.history) > historyCap {
		c.history = c.history[len(c.history)-historyCap:]
	}
	c.timestamp = rec.Timestamp
	return nil
}

// tracked reports whether the kind carries diffable state.
func tracked(kind decode.MessageKind) bool {
	switch kind {
	case decode.KindRfid, decode.KindTempHum, decode.KindNoise, decode.KindDoor,
		decode.KindColor, decode.KindColorQueryAck, decode.KindHeartbeat,
		decode.KindDeviceInfo, decode.KindModuleInfo, decode.KindDeviceAndModuleInfo:
		return true
	}
	return false
}

// updateRfid classifies tag transitions and filters the outgoing record
// to the changes only.
//
// Family-B frames are full inventory snapshots: positions absent from
// the frame are detached. Family-T change notifications are deltas:
// positions absent from the frame keep their previous state.
func (e *Engine) updateRfid(c *cell, rec *canonical.Record) ([]canonical.ChangeEvent, error) {
	payload, ok := rec.Payload.(canonical.RfidPayload)
	if !ok {
		return nil, fmt.Errorf("%w: rfid record carries %T", ErrStateFailed, rec.Payload)
	}

	prev := map[int]canonical.RfidTag{}
	if c.payload != nil {
		prevPayload, ok := c.payload.(canonical.RfidPayload)
		if !ok {
			return nil, fmt.Errorf("%w: stored payload is %T", ErrStateFailed, c.payload)
		}
		for _, tag := range prevPayload.RfidData {
			prev[tag.Position] = tag
		}
	}

	next := make(map[int]canonical.RfidTag, len(prev))
	for pos, tag := range prev {
		next[pos] = tag
	}

	var changes []canonical.ChangeEvent
	seen := map[int]bool{}
	for _, tag := range payload.RfidData {
		seen[tag.Position] = true
		old, existed := prev[tag.Position]

		switch {
		case tag.State == canonical.TagDetached:
			if existed {
				changes = append(changes, e.changeEvent(tag.Position, canonical.ActionDetached, old.Rfid, nil, rec.Timestamp))
				delete(next, tag.Position)
			}
		case !existed:
			changes = append(changes, e.changeEvent(tag.Position, canonical.ActionAttached, nil, tag.Rfid, rec.Timestamp))
			next[tag.Position] = tag
		case old.Rfid != tag.Rfid:
			changes = append(changes, e.changeEvent(tag.Position, canonical.ActionChanged, old.Rfid, tag.Rfid, rec.Timestamp))
			next[tag.Position] = tag
		case old.Alarm != tag.Alarm:
			changes = append(changes, e.changeEvent(tag.Position, canonical.ActionAlarmChanged, old.Alarm, tag.Alarm, rec.Timestamp))
			next[tag.Position] = tag
		default:
			next[tag.Position] = tag
		}
	}

	// Snapshot frames detach every previously known position the frame
	// no longer lists.
	if rec.DeviceKind == decode.DeviceKindB {
		for pos, old := range prev {
			if !seen[pos] {
				changes = append(changes, e.changeEvent(pos, canonical.ActionDetached, old.Rfid, nil, rec.Timestamp))
				delete(next, pos)
			}
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Position < changes[j].Position })

	// Store the full inventory, then reduce the outgoing payload to the
	// changed entries.
	stored := canonical.RfidPayload{
		UCount:   payload.UCount,
		RfidData: make([]canonical.RfidTag, 0, len(next)),
	}
	for _, pos := range sortedPositions(next) {
		stored.RfidData = append(stored.RfidData, next[pos])
	}
	stored.RfidCount = len(stored.RfidData)
	c.payload = stored

	filtered := canonical.RfidPayload{
		UCount:   payload.UCount,
		RfidData: make([]canonical.RfidTag, 0, len(changes)),
	}
	for _, ch := range changes {
		tag, ok := next[ch.Position]
		if !ok {
			tag = prev[ch.Position]
			tag.State = canonical.TagDetached
		}
		tag.Action = ch.Action
		filtered.RfidData = append(filtered.RfidData, tag)
	}
	filtered.RfidCount = len(filtered.RfidData)
	rec.Payload = filtered

	return changes, nil
}

func (e *Engine) updateTempHum(c *cell, rec *canonical.Record) ([]canonical.ChangeEvent, error) {
	payload, ok := rec.Payload.(canonical.TempHumPayload)
	if !ok {
		return nil, fmt.Errorf("%w: temphum record carries %T", ErrStateFailed, rec.Payload)
	}

	if c.payload == nil {
		c.payload = payload
		return []canonical.ChangeEvent{e.changeEvent(0, canonical.ActionInitialized, nil, nil, rec.Timestamp)}, nil
	}
	prevPayload, ok := c.payload.(canonical.TempHumPayload)
	if !ok {
		return nil, fmt.Errorf("%w: stored payload is %T", ErrStateFailed, c.payload)
	}
	rec.PreviousState = prevPayload

	prev := map[int]canonical.TempHumReading{}
	for _, r := range prevPayload.Sensors {
		prev[r.Position] = r
	}

	var changes []canonical.ChangeEvent
	for _, r := range payload.Sensors {
		old, existed := prev[r.Position]
		if !existed {
			continue
		}
		if math.Abs(r.Temperature-old.Temperature) > tempHumThreshold ||
			math.Abs(r.Humidity-old.Humidity) > tempHumThreshold {
			changes = append(changes, e.changeEvent(r.Position, canonical.ActionUpdated, old, r, rec.Timestamp))
		}
	}

	c.payload = payload
	return changes, nil
}

func (e *Engine) updateNoise(c *cell, rec *canonical.Record) ([]canonical.ChangeEvent, error) {
	payload, ok := rec.Payload.(canonical.NoisePayload)
	if !ok {
		return nil, fmt.Errorf("%w: noise record carries %T", ErrStateFailed, rec.Payload)
	}

	if c.payload == nil {
		c.payload = payload
		return []canonical.ChangeEvent{e.changeEvent(0, canonical.ActionInitialized, nil, nil, rec.Timestamp)}, nil
	}
	prevPayload, ok := c.payload.(canonical.NoisePayload)
	if !ok {
		return nil, fmt.Errorf("%w: stored payload is %T", ErrStateFailed, c.payload)
	}
	rec.PreviousState = prevPayload

	prev := map[int]canonical.NoiseReading{}
	for _, r := range prevPayload.Sensors {
		prev[r.Position] = r
	}

	var changes []canonical.ChangeEvent
	for _, r := range payload.Sensors {
		old, existed := prev[r.Position]
		if !existed {
			continue
		}
		if math.Abs(r.Level-old.Level) > noiseThreshold {
			changes = append(changes, e.changeEvent(r.Position, canonical.ActionUpdated, old.Level, r.Level, rec.Timestamp))
		}
	}

	c.payload = payload
	return changes, nil
}

func (e *Engine) updateDoor(c *cell, rec *canonical.Record) ([]canonical.ChangeEvent, error) {
	payload, ok := rec.Payload.(canonical.DoorPayload)
	if !ok {
		return nil, fmt.Errorf("%w: door record carries %T", ErrStateFailed, rec.Payload)
	}

	if c.payload == nil {
		c.payload = payload
		return []canonical.ChangeEvent{e.changeEvent(0, canonical.ActionInitialized, nil, payload.Status, rec.Timestamp)}, nil
	}
	prevPayload, ok := c.payload.(canonical.DoorPayload)
	if !ok {
		return nil, fmt.Errorf("%w: stored payload is %T", ErrStateFailed, c.payload)
	}
	rec.PreviousState = prevPayload

	var changes []canonical.ChangeEvent
	if prevPayload.Status != payload.Status {
		ev := e.changeEvent(0, canonical.ActionChanged, prevPayload.Status, payload.Status, rec.Timestamp)
		if !c.timestamp.IsZero() {
			ev.Duration = rec.Timestamp.Sub(c.timestamp).Seconds()
		}
		changes = append(changes, ev)
	}

	c.payload = payload
	return changes, nil
}

func (e *Engine) updateColor(c *cell, rec *canonical.Record) ([]canonical.ChangeEvent, error) {
	payload, ok := rec.Payload.(canonical.ColorPayload)
	if !ok {
		return nil, fmt.Errorf("%w: color record carries %T", ErrStateFailed, rec.Payload)
	}

	if c.payload == nil {
		c.payload = payload
		return []canonical.ChangeEvent{e.changeEvent(0, canonical.ActionInitialized, nil, nil, rec.Timestamp)}, nil
	}
	prevPayload, ok := c.payload.(canonical.ColorPayload)
	if !ok {
		return nil, fmt.Errorf("%w: stored payload is %T", ErrStateFailed, c.payload)
	}
	rec.PreviousState = prevPayload

	prev := map[int]canonical.ColorEntry{}
	for _, entry := range prevPayload.Colors {
		prev[entry.Position] = entry
	}

	var changes []canonical.ChangeEvent
	for _, entry := range payload.Colors {
		old, existed := prev[entry.Position]
		if !existed || old.Code != entry.Code {
			var previous any
			if existed {
				previous = old.Color
			}
			changes = append(changes, e.changeEvent(entry.Position, canonical.ActionSet, previous, entry.Color, rec.Timestamp))
		}
	}

	c.payload = payload
	return changes, nil
}

func (e *Engine) updateGeneric(c *cell, rec *canonical.Record) ([]canonical.ChangeEvent, error) {
	payload, ok := rec.Payload.(canonical.GenericPayload)
	if !ok {
		return nil, fmt.Errorf("%w: %s record carries %T", ErrStateFailed, rec.MessageKind, rec.Payload)
	}

	if c.payload == nil {
		c.payload = payload
		return []canonical.ChangeEvent{e.changeEvent(0, canonical.ActionInitialized, nil, nil, rec.Timestamp)}, nil
	}
	prevPayload, ok := c.payload.(canonical.GenericPayload)
	if !ok {
		return nil, fmt.Errorf("%w: stored payload is %T", ErrStateFailed, c.payload)
	}
	rec.PreviousState = prevPayload

	var changes []canonical.ChangeEvent
	if !reflect.DeepEqual(prevPayload, payload) {
		changes = append(changes, e.changeEvent(0, canonical.ActionUpdated, prevPayload, payload, rec.Timestamp))
	}

	c.payload = payload
	return changes, nil
}

// History returns a copy of the key's change history.
func (e *Engine) History(key string) []canonical.ChangeEvent {
	e.mu.RLock()
	c, ok := e.cells[key]
	e.mu.RUnlock()
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]canonical.ChangeEvent, len(c.history))
	copy(out, c.history)
	return out
}

// Clear evicts every state cell belonging to the device.
func (e *Engine) Clear(deviceID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	prefix := deviceID + "/"
	for key := range e.cells {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(e.cells, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of live state cells.
func (e *Engine) Size() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cells)
}

// cell returns the key's cell, creating it lazily.
func (e *Engine) cell(key string) *cell {
	e.mu.RLock()
	c, ok := e.cells[key]
	e.mu.RUnlock()
	if ok {
		return c
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok = e.cells[key]; ok {
		return c
	}
	c = &cell{}
	e.cells[key] = c
	return c
}

func (e *Engine) changeEvent(position int, action string, previous, current any, ts time.Time) canonical.ChangeEvent {
	if ts.IsZero() {
		ts = e.now()
	}
	return canonical.ChangeEvent{
		Position:  position,
		Action:    action,
		Previous:  previous,
		Current:   current,
		Timestamp: ts,
	}
}

// sortedPositions returns the map's keys in ascending order.
func sortedPositions(m map[int]canonical.RfidTag) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
