package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogDirEnv, when set, keeps test logs under that directory (so CI can upload them)
// instead of the test's temp dir.
const LogDirEnv = "LOG_DIR"

// NewSingleFileLogger creates a zap logger that writes everything for one test to one
// JSON file. The file name includes the test name and a timestamp so that parallel tests
// don't collide. The returned path is where the logs went.
func NewSingleFileLogger(tb testing.TB) (*zap.SugaredLogger, string) {
	tb.Helper()

	baseDir := os.Getenv(LogDirEnv)
	if baseDir == "" {
		baseDir = tb.TempDir()
	}
	name := strings.ReplaceAll(tb.Name(), string(filepath.Separator), "_")
	fullPath := filepath.Join(baseDir, fmt.Sprintf("%s_%d.log", name, time.Now().UnixNano()))
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		tb.Fatalf("Failed to create logs dir %q: %v", baseDir, err)
	}
	f, err := os.Create(fullPath)
	if err != nil {
		tb.Fatalf("Failed to create %q: %v", fullPath, err)
	}
	tb.Cleanup(func() { _ = f.Close() })

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000000")

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.AddSync(&autoFlushWriter{file: f}),
		zap.DebugLevel,
	)
	return zap.New(core, zap.AddCaller()).Sugar(), fullPath
}

// autoFlushWriter syncs after every write so a crashing test keeps its logs.
type autoFlushWriter struct {
	file *os.File
}

func (w *autoFlushWriter) Write(p []byte) (n int, err error) {
	n, err = w.file.Write(p)
	if err == nil {
		_ = w.file.Sync()
	}
	return n, err
}

func (w *autoFlushWriter) Sync() error {
	return w.file.Sync()
}
