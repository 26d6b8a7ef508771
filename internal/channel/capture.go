package channel

import (
	"context"
	"regexp"
	"sync"
)

var codeRe = regexp.MustCompile(`\b(\d{4,8})\b`)

// CaptureSender records sends for use in tests. Set Err to make every
// subsequent send fail with it.
type CaptureSender struct {
	mu    sync.Mutex
	Calls []CaptureCall
	Err   error
}

// CaptureCall records a single SendText invocation.
type CaptureCall struct {
	To   string
	Text string
}

func (c *CaptureSender) SendText(_ context.Context, to, text string) (*Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, CaptureCall{To: to, Text: text})
	if c.Err != nil {
		return nil, c.Err
	}
	return &Receipt{Status: "captured"}, nil
}

// Count returns the number of recorded sends.
func (c *CaptureSender) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// LastCode extracts a 4-8 digit code from the last captured message.
func (c *CaptureSender) LastCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Calls) == 0 {
		return ""
	}
	matches := codeRe.FindStringSubmatch(c.Calls[len(c.Calls)-1].Text)
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}

// Reset clears all recorded calls.
func (c *CaptureSender) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = nil
}
