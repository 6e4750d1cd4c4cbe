package audit

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

// ActivityLog appends one Line per audit entry to a text file.
type ActivityLog struct {
	file   *os.File
	logger *zap.Logger
}

// OpenActivityLog opens (or creates) the activity log at path for appending.
func OpenActivityLog(path string) (*ActivityLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(err, "create activity log dir for %s", path)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open activity log %s", path)
	}

	// Only the message is written: the line carries its own timestamp.
	encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey: "msg",
		LineEnding: zapcore.DefaultLineEnding,
	})
	core := zapcore.NewCore(encoder, zapcore.Lock(f), zapcore.InfoLevel)
	return &ActivityLog{file: f, logger: zap.New(core)}, nil
}

func (a *ActivityLog) Record(_ context.Context, e schema.AuditEntry) error {
	a.logger.Info(Line(e))
	return nil
}

func (a *ActivityLog) Close() error {
	_ = a.logger.Sync()
	return a.file.Close()
}
