// Package events provides in-process publish/subscribe for pipeline and
// maintenance notifications.
package events

import (
	"encoding/json"
	"time"
)

// EventType represents different event types
type EventType string

const (
	RunStarted      EventType = "RUN_STARTED"
	AssetSimulated  EventType = "ASSET_SIMULATED"
	RunCompleted    EventType = "RUN_COMPLETED"
	RunFailed       EventType = "RUN_FAILED"
	BackupCompleted EventType = "BACKUP_COMPLETED"
	ErrorOccurred   EventType = "ERROR_OCCURRED"
)

// AllEventTypes lists every event type the system emits.
var AllEventTypes = []EventType{
	RunStarted,
	AssetSimulated,
	RunCompleted,
	RunFailed,
	BackupCompleted,
	ErrorOccurred,
}

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// GetTypedData converts the Data map back into the typed payload for the
// event type. Returns nil for unknown types or malformed data.
func (e *Event) GetTypedData() EventData {
	if e.Data == nil {
		return nil
	}

	var data EventData
	switch e.Type {
	case RunStarted:
		data = &RunStartedData{}
	case AssetSimulated:
		data = &AssetSimulatedData{}
	case RunCompleted:
		data = &RunCompletedData{}
	case RunFailed:
		data = &RunFailedData{}
	case BackupCompleted:
		data = &BackupCompletedData{}
	case ErrorOccurred:
		data = &ErrorEventData{}
	default:
		return nil
	}

	if err := convertMapToStruct(e.Data, data); err != nil {
		return nil
	}
	return data
}

// convertMapToStruct converts a map[string]interface{} to a struct
func convertMapToStruct(m map[string]interface{}, v interface{}) error {
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonBytes, v)
}
