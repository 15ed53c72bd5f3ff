package handlers

import "github.com/akash-ravi/pomegranate-app/internal/history"

// PredictionRequest carries a canonical tensor flattened in NHWC order.
type PredictionRequest struct {
	Image []float32 `json:"image"`
}

type PredictionResponse struct {
	Label         string             `json:"label"`
	TopClass      string             `json:"top_class"`
	Confidence    float32            `json:"confidence"`
	Probabilities map[string]float32 `json:"probabilities"`
}

type SubmitResponse struct {
	SubmissionID string          `json:"submission_id"`
	State        string          `json:"state"`
	Reason       string          `json:"reason,omitempty"`
	ArchivedPath string          `json:"archived_path,omitempty"`
	TopClass     string          `json:"top_class,omitempty"`
	Confidence   float32         `json:"confidence,omitempty"`
	Record       *history.Record `json:"record,omitempty"`
	Error        string          `json:"error,omitempty"`
}

type HistoryListResponse struct {
	Records []history.Record `json:"records"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
