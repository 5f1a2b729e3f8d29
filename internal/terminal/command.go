package terminal

import (
	"os"
	"os/exec"
	"runtime"
)

// modeBinary maps a non-shell Mode to the CLI binary it launches. The
// registry only needs the binary name; everything about how that binary
// behaves is opaque to this subsystem, per spec §3.
var modeBinary = map[Mode]string{
	ModeClaude:   "claude",
	ModeCodex:    "codex",
	ModeOpenCode: "opencode",
	ModeGemini:   "gemini",
	ModeKimi:     "kimi",
}

// resolveCommand determines the argv to launch for (mode, shell),
// platform-aware as required by spec §4.1: Windows chooses among
// cmd/powershell/wsl/system, everywhere else shell is always "system"
// (the user's login shell).
func resolveCommand(mode Mode, shell Shell) (string, []string) {
	if bin, ok := modeBinary[mode]; ok {
		return bin, nil
	}

	if runtime.GOOS == "windows" {
		switch shell {
		case ShellCmd:
			return "cmd.exe", nil
		case ShellPowerShell:
			return "powershell.exe", nil
		case ShellWSL:
			return "wsl.exe", nil
		}
	}

	return loginShell(), nil
}

// loginShell returns the user's configured login shell, falling back to
// /bin/sh, matching blaxel's NewTerminalSession fallback chain.
func loginShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	if path, err := exec.LookPath("bash"); err == nil {
		return path
	}
	return "/bin/sh"
}
