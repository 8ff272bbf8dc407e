// Package stream writes the line-oriented JSON protocol read by the
// controller process.
package stream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/Tutortoise/depth-capture-service/models"
)

type statusMessage struct {
	Status string `json:"status"`
}

type infoMessage struct {
	Info string `json:"info"`
}

type savedMessage struct {
	Event     string           `json:"event"`
	Folder    string           `json:"folder"`
	Path      string           `json:"path,omitempty"`
	Embedding models.Embedding `json:"embedding"`
}

type errorMessage struct {
	Error string `json:"error"`
}

// Emitter serialises one JSON object per line and flushes after each line.
// It is safe for concurrent use.
type Emitter struct {
	mu    sync.Mutex
	w     *bufio.Writer
	lines uint64
}

func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: bufio.NewWriterSize(w, 64*1024)}
}

func (e *Emitter) emit(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("flush message: %w", err)
	}
	e.lines++
	return nil
}

// Ready announces that the device is streaming.
func (e *Emitter) Ready() error {
	return e.emit(statusMessage{Status: "ready"})
}

func (e *Emitter) Info(msg string) error {
	return e.emit(infoMessage{Info: msg})
}

// Saved reports a finished capture. A nil embedding is sent as null.
func (e *Emitter) Saved(folder, pointCloudPath string, emb models.Embedding) error {
	return e.emit(savedMessage{Event: "saved", Folder: folder, Path: pointCloudPath, Embedding: emb})
}

func (e *Emitter) Preview(p *Preview) error {
	return e.emit(p)
}

func (e *Emitter) Error(err error) error {
	return e.emit(errorMessage{Error: err.Error()})
}

// Lines is the number of messages written so far.
func (e *Emitter) Lines() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lines
}
