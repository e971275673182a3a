// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// cron式のスケジュールで定期実行し、削除件数をメトリクスに記録する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hitoshi/seva/internal/database"
	"github.com/hitoshi/seva/internal/repository"
)

// UnitOfWorkRunner はUnitOfWorkの実行範囲を提供するインターフェース。
type UnitOfWorkRunner interface {
	WithWriteUnitOfWork(ctx context.Context, fn func(uow *database.UnitOfWork) error) error
}

// PurgeRecorder は削除件数を記録するインターフェース（メトリクス用）。
type PurgeRecorder interface {
	RecordSessionsPurged(count int64)
}

// scheduleParser はCLEANUP_SCHEDULEの解釈に使うパーサー。秒フィールドは省略可能。
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// CleanupJob は期限切れセッションの削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	db       UnitOfWorkRunner
	recorder PurgeRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(db UnitOfWorkRunner, recorder PurgeRecorder, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		db:       db,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Run は期限切れのセッションを削除し、削除件数を返す。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	var deleted int64
	err := j.db.WithWriteUnitOfWork(ctx, func(uow *database.UnitOfWork) error {
		var err error
		deleted, err = repository.NewSessionRepo(uow).DeleteExpired(ctx, j.now())
		if err != nil {
			return err
		}
		return uow.Commit()
	})
	if err != nil {
		j.logger.Error("session cleanup failed",
			slog.String("error", err.Error()),
			slog.String("kind", database.ErrorKind(err)),
		)
		return 0, fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordSessionsPurged(deleted)
	}
	j.logger.Info("session cleanup completed",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted, nil
}

// ValidateSchedule はcron式が解釈できるかを確認する。
func ValidateSchedule(schedule string) error {
	if _, err := scheduleParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return nil
}

// Start は起動直後に1回ジョブを実行し、以降はscheduleに従って実行する。
// コンテキストがキャンセルされるまでブロックし、実行中のジョブの完了を待って戻る。
func (j *CleanupJob) Start(ctx context.Context, schedule string) error {
	if err := ValidateSchedule(schedule); err != nil {
		return err
	}

	c := cron.New(cron.WithParser(scheduleParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() { j.Run(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}

	j.logger.Info("cleanup scheduler started", slog.String("schedule", schedule))
	j.Run(ctx)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	j.logger.Info("cleanup scheduler stopped")
	return nil
}
