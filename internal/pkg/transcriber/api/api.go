package api

// Request keeps data for one transcription call
type Request struct {
	FilePath string
	Language string
	// Prompt carries vocabulary hints and the previous chunk tail
	Prompt string
}

// Response is a transcription engine answer, either plain or diarized
type Response struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments,omitempty"`
}

// Segment is one utterance of a diarized response
type Segment struct {
	Speaker string  `json:"speaker,omitempty"`
	Text    string  `json:"text"`
	Start   float64 `json:"start,omitempty"`
	End     float64 `json:"end,omitempty"`
}
