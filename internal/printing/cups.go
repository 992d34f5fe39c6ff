package printing

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

type commandRunner func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)

// CUPSSpooler drives the host print system through lpstat and lp.
type CUPSSpooler struct {
	run commandRunner
}

func NewCUPSSpooler() *CUPSSpooler {
	return &CUPSSpooler{run: execCommand}
}

func execCommand(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return out, err
		}
		return out, fmt.Errorf("%w: %s", err, msg)
	}
	return out, nil
}

func (s *CUPSSpooler) List(ctx context.Context) ([]HostPrinter, error) {
	out, err := s.run(ctx, nil, "lpstat", "-p")
	if err != nil {
		// lpstat exits non-zero when no destinations exist.
		if len(bytes.TrimSpace(out)) == 0 {
			return nil, nil
		}
		return nil, err
	}

	defaultName := ""
	if def, err := s.run(ctx, nil, "lpstat", "-d"); err == nil {
		defaultName = parseDefault(string(def))
	}

	var printers []HostPrinter
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != "printer" {
			continue
		}
		printers = append(printers, HostPrinter{Name: fields[1], IsDefault: fields[1] == defaultName})
	}
	return printers, scanner.Err()
}

func (s *CUPSSpooler) Status(ctx context.Context, queue string) (DeviceStatus, error) {
	out, err := s.run(ctx, nil, "lpstat", "-p", queue)
	if err != nil {
		return DeviceStatus{Online: false, Detail: strings.TrimSpace(string(out))}, err
	}
	text := strings.TrimSpace(string(out))
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "disabled"),
		strings.Contains(lower, "offline"),
		strings.Contains(lower, "not connected"),
		strings.Contains(lower, "unable to locate"):
		return DeviceStatus{Online: false, Detail: firstLine(text)}, nil
	case strings.Contains(lower, "idle"), strings.Contains(lower, "printing"), strings.Contains(lower, "enabled"):
		return DeviceStatus{Online: true, Detail: firstLine(text)}, nil
	}
	return DeviceStatus{Online: false, Detail: firstLine(text)}, nil
}

func (s *CUPSSpooler) Send(ctx context.Context, queue string, content []byte) error {
	_, err := s.run(ctx, content, "lp", "-d", queue, "-o", "raw")
	return err
}

func parseDefault(out string) string {
	const prefix = "system default destination:"
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}
