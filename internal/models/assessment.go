package models

// AssessmentRequest is the JSON body of POST /voice-assignment/analysis.
type AssessmentRequest struct {
	ReferencePath string `json:"reference_path" binding:"required"`
	ReferenceText string `json:"reference_text" binding:"required"`
}

type WordScore struct {
	Word          string  `json:"word"`
	AccuracyScore float64 `json:"accuracy_score"`
	ErrorType     string  `json:"error_type"`
}

// AssessmentResult is the pronunciation score breakdown returned to clients.
type AssessmentResult struct {
	PronunciationScore float64     `json:"pronunciation_score"`
	AccuracyScore      float64     `json:"accuracy_score"`
	CompletenessScore  float64     `json:"completeness_score"`
	FluencyScore       float64     `json:"fluency_score"`
	ProsodyScore       float64     `json:"prosody_score"`
	Words              []WordScore `json:"words"`
}
