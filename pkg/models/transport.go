// Package models holds the JSON wire types shared by the server and its
// clients.
package models

// PredictURLRequest asks the server to fetch and classify an image
type PredictURLRequest struct {
	URL string `json:"url" binding:"required"`
}

// PredictResponse is the body of a successful prediction. Confidence is a
// percentage; Mask names a stored overlay image, or is null.
type PredictResponse struct {
	Prediction  string  `json:"prediction"`
	Confidence  float64 `json:"confidence"`
	Mask        *string `json:"mask"`
	Description string  `json:"description,omitempty"`
	RequestID   string  `json:"request_id,omitempty"`
	Filename    string  `json:"filename,omitempty"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Backend     string `json:"backend,omitempty"`
	ModelLoaded *bool  `json:"model_loaded,omitempty"`
}

// DiseaseResponse is a knowledge-base lookup result
type DiseaseResponse struct {
	Label       string `json:"label"`
	Description string `json:"description"`
	Known       bool   `json:"known"`
}

// ThresholdsResponse echoes the leaf thresholds after an update
type ThresholdsResponse struct {
	Status        string  `json:"status"`
	HMin          int     `json:"GREEN_H_MIN"`
	HMax          int     `json:"GREEN_H_MAX"`
	SMin          int     `json:"S_MIN"`
	VMin          int     `json:"V_MIN"`
	MinProportion float64 `json:"GREEN_PROP_THRESH"`
}
