package engine

import (
	"context"
	"time"

	"hublink/hub"
	"hublink/mapping"
	"hublink/status"
	"hublink/transform"
)

func contextWithDefaultTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// TransferResult summarizes one completed transfer.
type TransferResult struct {
	Elements        int
	Correspondences int
}

// Transfer runs the mapped rows through the transformer, records the
// resulting correspondences on the identifier map, and stages everything
// into the transaction. At most one transfer runs at a time; commit of the
// transaction stays with the caller. A transform failure means no change
// was applied anywhere.
func (e *Engine) Transfer(tx hub.Transaction, rows []*mapping.Row) (*TransferResult, error) {
	if tx == nil || len(rows) == 0 {
		return nil, ErrInvalidInput
	}
	if e.mapSvc.Map() == nil {
		return nil, ErrNoMap
	}

	e.transferMu.Lock()
	if e.inFlight {
		e.transferMu.Unlock()
		return nil, ErrTransferInFlight
	}
	e.inFlight = true
	e.transferMu.Unlock()
	defer func() {
		e.transferMu.Lock()
		e.inFlight = false
		e.transferMu.Unlock()
	}()

	e.Events.Emit(Event{Type: EventTransferStarted, Payload: TransferEvent{Rows: len(rows)}})

	candidates, elements, err := e.transformer.Transform(rows)
	if err != nil {
		e.Events.Emit(Event{Type: EventTransferFailed, Payload: TransferEvent{
			Rows:  len(rows),
			Error: err.Error(),
		}})
		if e.mqttMgr != nil {
			e.mqttMgr.PublishTransfer(0, 0, err)
		}
		return nil, err
	}

	it := e.data.OpenIteration()
	for _, element := range elements {
		if existing, ok := e.data.GetThingByID(element.Iid); ok && existing != nil {
			tx.CreateOrUpdate(element)
		} else {
			tx.Create(element, it)
		}
	}

	for _, c := range candidates {
		e.mapSvc.AddCorrespondence(c.InternalID, c.External)
	}
	e.mapSvc.Persist(tx, it)

	result := &TransferResult{
		Elements:        len(elements),
		Correspondences: len(candidates),
	}
	status.Appendf(e.sink, status.Info, "transfer staged %d elements, %d correspondences", result.Elements, result.Correspondences)
	diffs := make([]RowDifference, 0, len(rows))
	for _, row := range rows {
		diffs = append(diffs, RowDifference{Node: row.NodeID(), Delta: row.Difference})
		if row.Difference != transform.DifferenceSentinel {
			status.Appendf(e.sink, status.Info, "node %s value changed by %s", row.NodeID(), row.Difference)
		}
	}
	e.Events.Emit(Event{Type: EventTransferCompleted, Payload: TransferEvent{
		Rows:            len(rows),
		Elements:        result.Elements,
		Correspondences: result.Correspondences,
		Differences:     diffs,
	}})
	e.Events.Emit(Event{Type: EventMapPersisted, Payload: MapEvent{
		Name:            e.mapSvc.Map().Name,
		Correspondences: len(e.mapSvc.Map().Correspondences),
	}})
	if e.mqttMgr != nil {
		e.mqttMgr.PublishTransfer(result.Elements, result.Correspondences, nil)
	}
	return result, nil
}

// LoadMappingFromDstToHub rebuilds mapped rows from the identifier map
// against the live variable collection.
func (e *Engine) LoadMappingFromDstToHub() []*mapping.Row {
	return e.mapSvc.LoadFromDstToHub(e.Variables())
}

// LoadMappingFromHubToDst rebuilds hub-to-destination rows from the
// identifier map against the live variable collection.
func (e *Engine) LoadMappingFromHubToDst() []*mapping.Row {
	return e.mapSvc.LoadFromHubToDst(e.Variables())
}

// PushValues writes hub-side authoritative values back to the destination
// for every hub-to-destination row. Rejected writes surface through the
// status sink; the returned count is the number of successful writes.
func (e *Engine) PushValues(rows []*mapping.Row) int {
	if e.session == nil {
		return 0
	}
	written := 0
	for _, row := range rows {
		if row == nil || row.Value == "" || row.Value == "-" {
			continue
		}
		ctx, cancel := contextWithDefaultTimeout()
		ok := e.session.WriteNode(ctx, row.NodeID(), row.Value)
		cancel()
		if ok {
			written++
		}
	}
	status.Appendf(e.sink, status.Info, "%d of %d values written to destination", written, len(rows))
	return written
}
