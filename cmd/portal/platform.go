package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"

	"healthcare-portal/internal/biometric"
	"healthcare-portal/internal/notify"
)

// terminalBiometrics stands in for the device sensor: the challenge is a
// y/N confirmation on the controlling terminal.
type terminalBiometrics struct {
	in  *bufio.Reader
	out io.Writer
}

func (t *terminalBiometrics) HasHardware(context.Context) (bool, error) { return true, nil }
func (t *terminalBiometrics) IsEnrolled(context.Context) (bool, error)  { return true, nil }

func (t *terminalBiometrics) Authenticate(_ context.Context, o biometric.Options) (biometric.Result, error) {
	fmt.Fprintf(t.out, "%s [y/N]: ", o.PromptMessage)
	line, err := t.in.ReadString('\n')
	if err != nil && line == "" {
		return biometric.Result{}, err
	}
	if strings.EqualFold(strings.TrimSpace(line), "y") {
		return biometric.Result{Success: true}, nil
	}
	return biometric.Result{Error: "user_cancel"}, nil
}

func (t *terminalBiometrics) SupportedTypes(context.Context) ([]biometric.Type, error) {
	return []biometric.Type{biometric.TypeFingerprint}, nil
}

// consoleNotifications prints notifications instead of raising them. It is
// never a physical device, so push registration always declines.
type consoleNotifications struct {
	out io.Writer

	mu      sync.Mutex
	pending map[string]notify.Request
}

func newConsoleNotifications(out io.Writer) *consoleNotifications {
	return &consoleNotifications{out: out, pending: make(map[string]notify.Request)}
}

func (c *consoleNotifications) IsDevice() bool { return false }
func (c *consoleNotifications) OS() string     { return runtime.GOOS }

func (c *consoleNotifications) PermissionStatus(context.Context) (notify.Permission, error) {
	return notify.PermissionUndetermined, nil
}

func (c *consoleNotifications) RequestPermission(context.Context) (notify.Permission, error) {
	return notify.PermissionDenied, nil
}

func (c *consoleNotifications) PushToken(context.Context) (string, error) {
	return "", fmt.Errorf("no push service on %s", runtime.GOOS)
}

func (c *consoleNotifications) Schedule(_ context.Context, n notify.Content) (string, error) {
	id := uuid.NewString()
	c.mu.Lock()
	c.pending[id] = notify.Request{ID: id, Content: n}
	c.mu.Unlock()

	tag := ""
	if n.Category != "" {
		tag = " [" + n.Category + "]"
	}
	fmt.Fprintf(c.out, "(notification%s) %s: %s\n", tag, n.Title, n.Body)
	return id, nil
}

func (c *consoleNotifications) Cancel(_ context.Context, id string) error {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
	return nil
}

func (c *consoleNotifications) Scheduled(context.Context) ([]notify.Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notify.Request, 0, len(c.pending))
	for _, r := range c.pending {
		out = append(out, r)
	}
	return out, nil
}

func (c *consoleNotifications) SetCategory(context.Context, string, []notify.Action) error {
	return nil
}
