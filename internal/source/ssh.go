package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// SSHConfig describes one remote host carrying transcripts.
type SSHConfig struct {
	Host         string `yaml:"host"`
	User         string `yaml:"user,omitempty"`
	Port         int    `yaml:"port,omitempty"`
	IdentityFile string `yaml:"identity_file,omitempty"`
	// Root is the remote transcript directory to scan.
	Root string `yaml:"root"`
}

func (c SSHConfig) target() string {
	if c.User != "" {
		return c.User + "@" + c.Host
	}
	return c.Host
}

// SSH executes listing and reads over the system ssh binary. Every call gets
// its own subprocess with an explicit timeout and a hard output cap, so one
// hung host can never wedge a reconstruction run.
type SSH struct {
	cfg SSHConfig

	ListTimeout time.Duration
	ReadTimeout time.Duration
	MaxBytes    int64

	limiter *rate.Limiter
	runner  commandRunner
}

// commandRunner is swapped in tests to avoid spawning real ssh processes.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

const (
	defaultListTimeout = 30 * time.Second
	defaultReadTimeout = 3 * time.Minute

	// sshCallsPerSecond bounds subprocess churn against one host; bursts cover
	// the stat-then-read pattern without queueing.
	sshCallsPerSecond = 5
)

func NewSSH(cfg SSHConfig) *SSH {
	return &SSH{
		cfg:         cfg,
		ListTimeout: defaultListTimeout,
		ReadTimeout: defaultReadTimeout,
		MaxBytes:    DefaultMaxBytes,
		limiter:     rate.NewLimiter(rate.Limit(sshCallsPerSecond), 2*sshCallsPerSecond),
		runner:      runSSHCommand,
	}
}

func runSSHCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

func (s *SSH) Label() string { return s.cfg.Host }

func (s *SSH) sshArgs(remoteCmd string) []string {
	args := []string{
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=10",
		"-o", "StrictHostKeyChecking=accept-new",
	}
	if s.cfg.Port > 0 {
		args = append(args, "-p", strconv.Itoa(s.cfg.Port))
	}
	if s.cfg.IdentityFile != "" {
		args = append(args, "-i", s.cfg.IdentityFile)
	}
	return append(args, s.cfg.target(), remoteCmd)
}

func (s *SSH) run(ctx context.Context, op, remoteCmd string, timeout time.Duration) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, &ConnectionError{Host: s.cfg.Host, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := s.runner(ctx, "ssh", s.sshArgs(remoteCmd)...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Host: s.cfg.Host, Op: op, Err: err}
		}
		return nil, &ConnectionError{Host: s.cfg.Host, Err: err}
	}
	if int64(len(out)) > s.MaxBytes {
		return nil, fmt.Errorf("source: host %s: %s returned %d bytes: %w", s.cfg.Host, op, len(out), ErrTooLarge)
	}
	return out, nil
}

// List enumerates files below dir. The remote find emits size, mtime epoch and
// path separated by tabs, one file per line.
func (s *SSH) List(ctx context.Context, dir string) ([]Entry, error) {
	remoteCmd := fmt.Sprintf(`find %s -type f -name '*.jsonl' -printf '%%s\t%%T@\t%%p\n' 2>/dev/null`, shellQuote(dir))
	out, err := s.run(ctx, "list", remoteCmd, s.ListTimeout)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		size, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			continue
		}
		epoch, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Path:    parts[2],
			Size:    size,
			ModTime: time.Unix(int64(epoch), 0),
		})
	}
	return entries, nil
}

func (s *SSH) Stat(ctx context.Context, path string) (FileInfo, error) {
	remoteCmd := fmt.Sprintf(`stat -c '%%s %%Y' %s`, shellQuote(path))
	out, err := s.run(ctx, "stat", remoteCmd, s.ListTimeout)
	if err != nil {
		return FileInfo{}, err
	}

	fields := strings.Fields(strings.TrimSpace(string(out)))
	if len(fields) != 2 {
		return FileInfo{}, fmt.Errorf("source: host %s: unexpected stat output %q", s.cfg.Host, string(out))
	}
	size, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return FileInfo{}, fmt.Errorf("source: host %s: parse stat size: %w", s.cfg.Host, err)
	}
	epoch, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return FileInfo{}, fmt.Errorf("source: host %s: parse stat mtime: %w", s.cfg.Host, err)
	}
	return FileInfo{Size: size, ModTime: time.Unix(epoch, 0)}, nil
}

func (s *SSH) Read(ctx context.Context, path string) ([]byte, error) {
	// head -c enforces the cap remotely so an oversized file never crosses
	// the wire; the local check in run() then flags it.
	remoteCmd := fmt.Sprintf(`head -c %d %s`, s.MaxBytes+1, shellQuote(path))
	return s.run(ctx, "read", remoteCmd, s.ReadTimeout)
}

// partialReadMarker separates the head, tail and line-count sections of the
// single remote invocation. Transcript lines are JSON objects and can never
// collide with it.
const partialReadMarker = "---USAGE-ENGINE-SECTION---"

func (s *SSH) PartialRead(ctx context.Context, path string, headLines, tailLines int) (PartialContent, error) {
	quoted := shellQuote(path)
	remoteCmd := fmt.Sprintf(
		`head -n %d %s; echo %s; tail -n %d %s; echo %s; wc -l < %s`,
		headLines, quoted, partialReadMarker, tailLines, quoted, partialReadMarker, quoted,
	)
	out, err := s.run(ctx, "partial read", remoteCmd, s.ReadTimeout)
	if err != nil {
		return PartialContent{}, err
	}

	sections := strings.SplitN(string(out), partialReadMarker+"\n", 3)
	if len(sections) != 3 {
		return PartialContent{}, fmt.Errorf("source: host %s: malformed partial read output", s.cfg.Host)
	}

	content := PartialContent{
		Head: splitNonEmptyLines(sections[0]),
		Tail: splitNonEmptyLines(sections[1]),
	}
	total, err := strconv.Atoi(strings.TrimSpace(sections[2]))
	if err != nil {
		return PartialContent{}, fmt.Errorf("source: host %s: parse line count: %w", s.cfg.Host, err)
	}
	content.TotalLines = total
	return content, nil
}

func splitNonEmptyLines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
