package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const slowQueryThreshold = 500 * time.Millisecond

// GormLogger sends gorm output to the standard logrus logger.
var GormLogger logger.Interface = (*gormLogger)(logrus.StandardLogger())

type gormLogger logrus.Logger

func (l *gormLogger) unmask() *logrus.Logger {
	return (*logrus.Logger)(l)
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return l
}

func (l *gormLogger) Info(ctx context.Context, s string, i ...interface{}) {
	l.unmask().WithContext(ctx).Infof(s, i...)
}

func (l *gormLogger) Warn(ctx context.Context, s string, i ...interface{}) {
	l.unmask().WithContext(ctx).Warnf(s, i...)
}

func (l *gormLogger) Error(ctx context.Context, s string, i ...interface{}) {
	l.unmask().WithContext(ctx).Errorf(s, i...)
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	elapsed := time.Since(begin)
	sql, rowsAffected := fc()
	entry := l.unmask().WithContext(ctx).WithFields(logrus.Fields{
		"elapsed": elapsed.String(),
		"rows":    rowsAffected,
	})

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		entry.WithError(err).Errorf("%s", sql)
	case elapsed > slowQueryThreshold:
		entry.Warnf("slow query: %s", sql)
	default:
		entry.Tracef("%s", sql)
	}
}
