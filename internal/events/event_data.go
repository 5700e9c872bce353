package events

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// RunStartedData contains data for RunStarted events
type RunStartedData struct {
	RunID      string   `json:"run_id"`
	Assets     []string `json:"assets"`
	NBootstrap int      `json:"n_bootstrap"`
	Iterations int      `json:"iterations"`
	Seed       int64    `json:"seed"`
}

// EventType returns the event type for RunStartedData
func (d *RunStartedData) EventType() EventType {
	return RunStarted
}

// AssetSimulatedData contains data for AssetSimulated events
type AssetSimulatedData struct {
	RunID         string  `json:"run_id"`
	Asset         string  `json:"asset"`
	BlockSize     int     `json:"block_size"`
	S0            float64 `json:"s0"`
	MeanTerminal  float64 `json:"mean_terminal"`
	WarningsCount int     `json:"warnings_count"`
}

// EventType returns the event type for AssetSimulatedData
func (d *AssetSimulatedData) EventType() EventType {
	return AssetSimulated
}

// RunCompletedData contains data for RunCompleted events
type RunCompletedData struct {
	RunID      string             `json:"run_id"`
	Sharpe     float64            `json:"sharpe"`
	Weights    map[string]float64 `json:"weights"`
	Converged  bool               `json:"converged"`
	Iterations int                `json:"iterations"`
	DurationMs int64              `json:"duration_ms"`
}

// EventType returns the event type for RunCompletedData
func (d *RunCompletedData) EventType() EventType {
	return RunCompleted
}

// RunFailedData contains data for RunFailed events
type RunFailedData struct {
	RunID string `json:"run_id"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// EventType returns the event type for RunFailedData
func (d *RunFailedData) EventType() EventType {
	return RunFailed
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Filename   string `json:"filename"`
	SizeBytes  int64  `json:"size_bytes"`
	Databases  int    `json:"databases"`
	DurationMs int64  `json:"duration_ms"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
