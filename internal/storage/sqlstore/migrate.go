package sqlstore

import (
	"context"
	"embed"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var embedMigrations embed.FS

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

// Migrate brings the schema up to date.
func (s *Store) Migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(gooseLogger{s.logger.Sugar()})
	if err := goose.SetDialect(s.dialect.gooseDialect); err != nil {
		return errors.Wrap(err, "set migration dialect")
	}

	s.logger.Info("running migrations", zap.String("dialect", s.dialect.Name))
	if err := goose.UpContext(ctx, s.db, s.dialect.migrations); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	return nil
}

type gooseLogger struct {
	l *zap.SugaredLogger
}

func (g gooseLogger) Printf(format string, v ...any) {
	g.l.Infof(strings.TrimSuffix(format, "\n"), v...)
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.l.Fatalf(strings.TrimSuffix(format, "\n"), v...)
}
