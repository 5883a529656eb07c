package common

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// crashLogDir is where crash reports are written. Set once at startup.
var crashLogDir = "./logs"

// InstallCrashHandler sets the crash report directory and makes sure it
// exists. Call early in main, paired with a deferred RecoverWithCrashFile.
func InstallCrashHandler(logDir string) {
	if logDir != "" {
		crashLogDir = logDir
	}
	if err := os.MkdirAll(crashLogDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: failed to create log directory: %v\n", err)
	}
}

// RecoverWithCrashFile turns an unhandled panic into a crash report file
// and a nonzero exit. Usage: defer common.RecoverWithCrashFile()
func RecoverWithCrashFile() {
	if r := recover(); r != nil {
		WriteCrashFile(r, GetStackTrace())
		os.Exit(1)
	}
}

// WriteCrashFile dumps the panic value, all goroutine stacks and runtime
// stats to a timestamped file under the crash directory. Returns the file
// path, or "" if writing failed and the report went to stderr instead.
func WriteCrashFile(panicVal interface{}, stack string) string {
	crashPath := filepath.Join(crashLogDir, fmt.Sprintf("crash-%s.log", time.Now().Format("2006-01-02T15-04-05")))

	var report bytes.Buffer
	fmt.Fprintf(&report, "=== PURGO CRASH REPORT ===\n")
	fmt.Fprintf(&report, "Time: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&report, "Version: %s\n\n", GetFullVersion())

	fmt.Fprintf(&report, "=== PANIC ===\n%v\n\n", panicVal)
	fmt.Fprintf(&report, "=== STACK ===\n%s\n", stack)
	fmt.Fprintf(&report, "=== ALL GOROUTINES ===\n%s\n", allGoroutineStacks())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	fmt.Fprintf(&report, "=== RUNTIME ===\n")
	fmt.Fprintf(&report, "NumGoroutine: %d\nNumCPU: %d\nGOOS: %s\nGOARCH: %s\n",
		runtime.NumGoroutine(), runtime.NumCPU(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&report, "Alloc: %d MB\nSys: %d MB\nNumGC: %d\n",
		mem.Alloc/1024/1024, mem.Sys/1024/1024, mem.NumGC)

	if err := os.WriteFile(crashPath, report.Bytes(), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: failed to write crash file: %v\n", err)
		fmt.Fprint(os.Stderr, report.String())
		return ""
	}

	fmt.Fprintf(os.Stderr, "\n!!! FATAL CRASH - Report saved to: %s !!!\n", crashPath)
	fmt.Fprintf(os.Stderr, "Panic: %v\n", panicVal)
	return crashPath
}

// GetStackTrace returns the current goroutine's stack trace.
func GetStackTrace() string {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// allGoroutineStacks dumps every goroutine, growing the buffer until the
// dump fits.
func allGoroutineStacks() string {
	buf := make([]byte, 64*1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return string(buf[:n])
		}
		if len(buf) >= 64*1024*1024 {
			return string(buf[:n])
		}
		buf = make([]byte, len(buf)*2)
	}
}
