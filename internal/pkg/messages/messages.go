package messages

import (
	amessages "github.com/airenas/async-api/pkg/messages"
)

const (
	st = "PS/"
	// Process queue name
	Process = st + "Process"
	// StatusChange queue name
	StatusChange = st + "StatusChange"
	// Inform  queue name
	Inform = st + "Inform"
)

// ProcessMessage starts the consultation pipeline
type ProcessMessage struct {
	amessages.QueueMessage
	// Resume skips steps whose persisted results are still valid
	Resume bool `json:"resume,omitempty"`
	// UseOriginal reads the preserved pre-compression audio
	UseOriginal bool `json:"useOriginal,omitempty"`
}

// StatusMessage notifies status subscribers
type StatusMessage struct {
	amessages.QueueMessage
	Step string `json:"step,omitempty"`
}

// NewProcessMessage creates a process message for the consultation
func NewProcessMessage(id string, resume, useOriginal bool) *ProcessMessage {
	return &ProcessMessage{QueueMessage: amessages.QueueMessage{ID: id}, Resume: resume, UseOriginal: useOriginal}
}
