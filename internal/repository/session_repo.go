package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/seva/internal/database"
	"github.com/hitoshi/seva/internal/model"
)

const sessionColumns = `id, user_id, subject_id, first_name, last_name, username, photo_url, expires_at, created_at`

// SessionRepo はUnitOfWorkを使用したセッションリポジトリ。
type SessionRepo struct {
	uow *database.UnitOfWork
}

// NewSessionRepo はSessionRepoを生成する。
func NewSessionRepo(uow *database.UnitOfWork) *SessionRepo {
	return &SessionRepo{uow: uow}
}

// Create はセッションを作成する。
func (r *SessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.uow.Exec(ctx, database.SQL("INSERT INTO sessions ("+sessionColumns+") VALUES (").
		Args(
			session.ID,
			session.UserID,
			session.SubjectID,
			session.FirstName,
			session.LastName,
			session.Username,
			session.PhotoURL,
			database.ToMillis(session.ExpiresAt),
			database.ToMillis(session.CreatedAt),
		).Raw(")"))
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *SessionRepo) FindByID(ctx context.Context, id string, now time.Time) (*model.Session, error) {
	row, err := r.uow.QueryOne(ctx, database.SQL("SELECT "+sessionColumns+" FROM sessions WHERE id = ").
		Arg(id).
		Raw(" AND expires_at > ").Arg(database.ToMillis(now)))
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return &model.Session{
		ID:        row.String("id"),
		UserID:    row.Int64("user_id"),
		SubjectID: row.String("subject_id"),
		FirstName: row.String("first_name"),
		LastName:  row.String("last_name"),
		Username:  row.String("username"),
		PhotoURL:  row.String("photo_url"),
		ExpiresAt: row.Time("expires_at"),
		CreatedAt: row.Time("created_at"),
	}, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *SessionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.uow.Exec(ctx, database.SQL("DELETE FROM sessions WHERE id = ").Arg(id)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *SessionRepo) DeleteByUserID(ctx context.Context, userID int64) error {
	if _, err := r.uow.Exec(ctx, database.SQL("DELETE FROM sessions WHERE user_id = ").Arg(userID)); err != nil {
		return fmt.Errorf("failed to delete sessions by user ID: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := r.uow.Exec(ctx, database.SQL("DELETE FROM sessions WHERE expires_at <= ").Arg(database.ToMillis(now)))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return n, nil
}

var _ SessionRepository = (*SessionRepo)(nil)
