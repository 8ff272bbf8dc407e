package command

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"go.uber.org/zap"
)

// CmdSave is the only command the producer acts on.
const CmdSave = "save"

const maxLineSize = 1 << 20

// Message is one controller line: {"cmd":"save","hn":"123","mode":"pre"}.
type Message struct {
	Cmd  string     `json:"cmd"`
	HN   flexString `json:"hn"`
	Mode flexString `json:"mode"`
}

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// Parse decodes one line. Anything that is not a JSON object is an error.
func Parse(line []byte) (Message, error) {
	var msg Message
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return msg, errors.New("empty line")
	}
	if err := json.Unmarshal(line, &msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// Listener reads commands from the controller and arms the request state.
type Listener struct {
	in     io.Reader
	state  *RequestState
	logger *zap.Logger
}

func NewListener(in io.Reader, state *RequestState, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{in: in, state: state, logger: logger}
}

// Run reads until EOF, a read error, or ctx is done. The blocking read is
// its only suspension point; malformed lines are dropped.
func (l *Listener) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(l.in)
	scanner.Buffer(make([]byte, 4096), maxLineSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.handle(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		l.logger.Warn("command input failed", zap.Error(err))
		return err
	}
	l.logger.Info("command input closed")
	return nil
}

func (l *Listener) handle(line []byte) {
	msg, err := Parse(line)
	if err != nil {
		l.logger.Debug("discarding command line", zap.Error(err), zap.Int("bytes", len(line)))
		return
	}
	if msg.Cmd != CmdSave {
		l.logger.Debug("ignoring command", zap.String("cmd", msg.Cmd))
		return
	}

	req, replaced := l.state.Arm(string(msg.HN), string(msg.Mode))
	l.logger.Info("capture armed",
		zap.String("subject", req.SubjectID),
		zap.String("mode", req.Mode),
		zap.Uint64("seq", req.Seq),
		zap.Bool("replaced_pending", replaced),
	)
}

// Start runs the listener in its own goroutine. The returned channel
// receives Run's result once.
func (l *Listener) Start(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- l.Run(ctx)
	}()
	return done
}
