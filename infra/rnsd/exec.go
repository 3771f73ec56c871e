package rnsd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	bridgeBinaryName = "rnsd-bridge"
	bridgeBinaryEnv  = "MESHNODE_RNSD_BIN"
	bridgeLogName    = "bridge.log"
	maxTailLogBytes  = 32 * 1024
)

var (
	bridgeLookPath   = exec.LookPath
	bridgeStat       = os.Stat
	bridgeExecutable = os.Executable
	bridgeGetenv     = os.Getenv
)

// ExecLauncher runs the bridge binary. Its stderr goes to bridge.log in the
// config dir.
type ExecLauncher struct {
	// Binary overrides binary resolution when set.
	Binary string
}

func (l ExecLauncher) Launch(ctx context.Context, configDir string) (Process, error) {
	bin := strings.TrimSpace(l.Binary)
	if bin == "" {
		var err error
		if bin, err = resolveBridgeBinary(); err != nil {
			return nil, fmt.Errorf("resolve bridge binary: %w", err)
		}
	}

	logPath := filepath.Join(configDir, bridgeLogName)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open bridge log file: %w", err)
	}

	// Not CommandContext: the runtime owns the process past the launching call.
	cmd := exec.Command(bin, "--config", configDir)
	cmd.Stderr = logFile
	setProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("bridge stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("bridge stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("start bridge process: %w", err)
	}
	slog.Debug("bridge started", "path", bin, "pid", cmd.Process.Pid, "log", logPath)

	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout, logFile: logFile, logPath: logPath}, nil
}

type execProcess struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.Reader
	logFile *os.File
	logPath string
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader      { return p.stdout }
func (p *execProcess) Pid() int               { return p.cmd.Process.Pid }
func (p *execProcess) Terminate() error       { return terminate(p.cmd.Process) }
func (p *execProcess) Kill() error            { return p.cmd.Process.Kill() }

// Wait reaps the process and appends the log tail to a failed exit.
func (p *execProcess) Wait() error {
	err := p.cmd.Wait()
	_ = p.logFile.Close()
	if err == nil {
		return nil
	}
	if logs := tailLog(p.logPath, maxTailLogBytes); logs != "" {
		return fmt.Errorf("%w\n%s", err, logs)
	}
	return err
}

func resolveBridgeBinary() (string, error) {
	if explicit := strings.TrimSpace(bridgeGetenv(bridgeBinaryEnv)); explicit != "" {
		if ok, err := isExecutableFile(explicit); err != nil {
			return "", fmt.Errorf("check %s %q: %w", bridgeBinaryEnv, explicit, err)
		} else if !ok {
			return "", fmt.Errorf("%s=%q is not an executable file", bridgeBinaryEnv, explicit)
		}
		return explicit, nil
	}

	if exePath, err := bridgeExecutable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exePath), bridgeBinaryName)
		if ok, _ := isExecutableFile(candidate); ok {
			return candidate, nil
		}
	}

	if path, err := bridgeLookPath(bridgeBinaryName); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("exec: %q: executable file not found in PATH (set %s)", bridgeBinaryName, bridgeBinaryEnv)
}

func isExecutableFile(path string) (bool, error) {
	st, err := bridgeStat(path)
	if err != nil {
		return false, err
	}
	if st.IsDir() {
		return false, nil
	}
	return st.Mode()&0o111 != 0, nil
}

func tailLog(path string, maxBytes int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return ""
	}
	offset := st.Size() - maxBytes
	if offset < 0 {
		offset = 0
	}
	buf := make([]byte, st.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return ""
	}
	return strings.TrimSpace(string(buf))
}
