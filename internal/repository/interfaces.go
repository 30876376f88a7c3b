// Package repository はデータ永続化のインターフェースとMongoDB実装を提供する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/codetutor/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByGitHubID はGitHubのユーザーIDで検索する。見つからない場合はnilを返す。
	FindByGitHubID(ctx context.Context, githubID string) (*model.User, error)

	// FindByUsername はユーザー名を大文字小文字を区別せずに検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// ListByProvider は指定プロバイダのユーザー一覧を返す。
	ListByProvider(ctx context.Context, provider model.Provider) ([]*model.User, error)

	// Create はユーザーを作成し、ID・タイムスタンプを設定する。
	// 一意インデックス違反は*model.DuplicateKeyErrorを返す。
	Create(ctx context.Context, user *model.User) error

	// Update はプロフィール項目を更新する。
	// 存在しない場合はmodel.ErrNotFound、一意インデックス違反は*model.DuplicateKeyErrorを返す。
	Update(ctx context.Context, user *model.User) error

	// TouchLastLogin は最終ログイン日時のみを更新し、更新後のユーザーを返す。
	TouchLastLogin(ctx context.Context, id string, at time.Time) (*model.User, error)

	// DeleteInactive は最終ログインがbefore以前のユーザーを削除し、削除件数を返す。
	DeleteInactive(ctx context.Context, before time.Time) (int64, error)
}

// CourseRepository はコースデータの永続化インターフェース。
type CourseRepository interface {
	// FindByID は指定IDのコースを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Course, error)

	// Create はコースを作成し、ID・タイムスタンプを設定する。
	Create(ctx context.Context, course *model.Course) error

	// Update は編集可能な項目を更新する。存在しない場合はmodel.ErrNotFoundを返す。
	Update(ctx context.Context, course *model.Course) error

	// SetPublished は公開状態を変更し、更新後のコースを返す。
	SetPublished(ctx context.Context, id string, published bool) (*model.Course, error)

	// AddStudent は受講者を追加する。既に受講済みの場合はfalseを返す。
	AddStudent(ctx context.Context, courseID, userID string) (bool, error)

	// RemoveStudent は受講者を除外する。受講していない場合はfalseを返す。
	RemoveStudent(ctx context.Context, courseID, userID string) (bool, error)

	// ListPublished は公開中のコースを新しい順に返す。
	ListPublished(ctx context.Context, limit int) ([]*model.Course, error)

	// ListByProfessor は指定ユーザーが作成したコースを新しい順に返す。
	ListByProfessor(ctx context.Context, professorID string) ([]*model.Course, error)

	// ListByLevel は指定難易度の公開中コースを返す。
	ListByLevel(ctx context.Context, level model.Level) ([]*model.Course, error)

	// Search は全文検索インデックスで公開中コースを関連度順に返す。
	Search(ctx context.Context, query string, limit int) ([]*model.Course, error)

	// Popular は公開中コースを受講者数の多い順に返す。
	Popular(ctx context.Context, limit int) ([]*model.PopularCourse, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Get は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
	Get(ctx context.Context, id string) (*model.Session, error)

	// Save はセッションを作成または置換する。
	Save(ctx context.Context, session *model.Session) error

	// Touch は有効期限のみを延長する。
	Touch(ctx context.Context, id string, expires time.Time) error

	// Destroy は指定IDのセッションを削除する。削除した場合はtrueを返す。
	Destroy(ctx context.Context, id string) (bool, error)

	// PurgeExpired は期限切れのセッションを削除し、削除件数を返す。
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
