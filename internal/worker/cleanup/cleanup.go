// Package cleanup は期限切れセッションと長期間ログインのないユーザーの削除ジョブを提供する。
// MongoDBのTTLインデックスによる削除を補完するバックストップとして定期実行する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hitoshi/codetutor/internal/metrics"
)

// DefaultInactiveUserRetention は最終ログインからユーザーを保持する期間（365日）。
const DefaultInactiveUserRetention = 365 * 24 * time.Hour

// DefaultSchedule は既定の実行スケジュール。
const DefaultSchedule = "@every 1h"

// SessionPurger は期限切れセッションを削除する。
type SessionPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// InactiveUserDeleter は最終ログインがbefore以前のユーザーを削除する。
type InactiveUserDeleter interface {
	DeleteInactive(ctx context.Context, before time.Time) (int64, error)
}

// Result は1回の実行で削除した件数。
type Result struct {
	Sessions int64
	Users    int64
}

// CleanupJob は期限切れデータの削除ジョブ。
// 削除対象がない場合もエラーにならない冪等な処理。
type CleanupJob struct {
	sessions SessionPurger
	users    InactiveUserDeleter
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	now      func() time.Time

	// UserRetention は最終ログインからの保持期間。0以下の場合はユーザーを削除しない。
	UserRetention time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトのユーザー保持期間は365日。
func NewCleanupJob(sessions SessionPurger, users InactiveUserDeleter, collector metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions:      sessions,
		users:         users,
		metrics:       collector,
		logger:        logger,
		now:           time.Now,
		UserRetention: DefaultInactiveUserRetention,
	}
}

// Run は期限切れセッションと非アクティブユーザーを削除する。
// 片方が失敗しても他方は実行し、両方のエラーをまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result
	var errs []error

	n, err := j.sessions.PurgeExpired(ctx)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました", slog.String("error", err.Error()))
		errs = append(errs, fmt.Errorf("セッションの削除に失敗: %w", err))
	} else {
		res.Sessions = n
		j.metrics.RecordPurged("sessions", n)
	}

	if j.UserRetention > 0 {
		before := j.now().Add(-j.UserRetention)
		n, err := j.users.DeleteInactive(ctx, before)
		if err != nil {
			j.logger.Error("非アクティブユーザーの削除に失敗しました", slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("ユーザーの削除に失敗: %w", err))
		} else {
			res.Users = n
			j.metrics.RecordPurged("users", n)
		}
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", res.Sessions),
		slog.Int64("deleted_users", res.Users),
		slog.Duration("user_retention", j.UserRetention),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return res, errors.Join(errs...)
}

// Scheduler はCleanupJobをcron式に従って実行する。
type Scheduler struct {
	cron   *cron.Cron
	job    *CleanupJob
	logger *slog.Logger
}

// NewScheduler はスケジュールを登録したSchedulerを生成する。
// scheduleは標準のcron式または"@every 1h"のような記述子。
func NewScheduler(ctx context.Context, job *CleanupJob, schedule string, logger *slog.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := job.Run(ctx); err != nil {
			logger.Error("クリーンアップジョブの実行に失敗しました", slog.String("error", err.Error()))
		}
	}); err != nil {
		return nil, fmt.Errorf("スケジュールの登録に失敗: %q: %w", schedule, err)
	}

	return &Scheduler{cron: c, job: job, logger: logger}, nil
}

// Start はスケジューラをバックグラウンドで開始する。
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("クリーンアップスケジューラを開始しました")
}

// Stop はスケジューラを停止し、実行中のジョブの完了を待つ。
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
	s.logger.Info("クリーンアップスケジューラを停止しました")
}
