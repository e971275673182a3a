// Package auth はTelegramログインの検証とセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/seva/internal/database"
	"github.com/hitoshi/seva/internal/model"
	"github.com/hitoshi/seva/internal/repository"
)

// AssertionVerifier はログイン情報の検証インターフェース。
type AssertionVerifier interface {
	Check(assertion map[string]string) error
}

// UnitOfWorkRunner はUnitOfWorkの実行範囲を提供するインターフェース。
// *database.DBが満たす。
type UnitOfWorkRunner interface {
	WithUnitOfWork(ctx context.Context, fn func(uow *database.UnitOfWork) error) error
	WithWriteUnitOfWork(ctx context.Context, fn func(uow *database.UnitOfWork) error) error
}

// LoginRecorder はログイン結果を記録するインターフェース（メトリクス用）。
type LoginRecorder interface {
	RecordLogin(result string)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// BindResult はログイン成功時の結果。
type BindResult struct {
	UserID  int64
	Created bool // 今回のログインでユーザーが作成された場合true
	Session *model.Session
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	verifier AssertionVerifier
	db       UnitOfWorkRunner
	recorder LoginRecorder
	config   ServiceConfig
	now      func() time.Time
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(verifier AssertionVerifier, db UnitOfWorkRunner, recorder LoginRecorder, config ServiceConfig) *Service {
	return &Service{
		verifier: verifier,
		db:       db,
		recorder: recorder,
		config:   config,
		now:      time.Now,
	}
}

// BindSession はTelegramログイン情報を検証し、ユーザーを特定（未登録なら作成）してセッションを発行する。
// 検証に失敗した場合は*model.APIErrorを返す。検証の再試行は行わない。
func (s *Service) BindSession(ctx context.Context, assertion map[string]string) (*BindResult, error) {
	// 1. 署名と鮮度を検証
	if err := s.verifier.Check(assertion); err != nil {
		apiErr := loginErrorFor(err)
		slog.Warn("telegram login rejected",
			slog.String("code", apiErr.Code),
			slog.String("reason", err.Error()),
		)
		s.record(strings.ToLower(apiErr.Code))
		return nil, apiErr
	}

	// 2. ハンドルを正規化
	handle, key, ok := model.NormalizeTelegramHandle(assertion["username"])
	if !ok {
		slog.Warn("telegram login without username", slog.String("subject_id", assertion["id"]))
		s.record("handle_missing")
		return nil, model.NewHandleMissingError()
	}

	// 3. ユーザーの特定・作成とセッションの発行
	name := displayName(assertion["first_name"], assertion["last_name"], handle)
	result, err := s.bind(ctx, assertion, handle, key, name)
	if errors.Is(err, database.ErrConflict) {
		// 同じハンドルの同時ログインで一意制約に負けた場合、既存ユーザーとして読み直す
		slog.Info("handle registered concurrently, reloading user", slog.String("handle", handle))
		result, err = s.bind(ctx, assertion, handle, key, name)
	}
	if err != nil {
		s.record("error")
		return nil, fmt.Errorf("failed to bind telegram login: %w", err)
	}

	if result.Created {
		slog.Info("new user created", slog.Int64("user_id", result.UserID), slog.String("handle", handle))
		s.record("created")
	} else {
		slog.Info("existing user logged in", slog.Int64("user_id", result.UserID))
		s.record("success")
	}
	return result, nil
}

func (s *Service) bind(ctx context.Context, assertion map[string]string, handle, key, name string) (*BindResult, error) {
	var result *BindResult
	err := s.db.WithWriteUnitOfWork(ctx, func(uow *database.UnitOfWork) error {
		repos := repository.New(uow)

		user, err := repos.Users.FindByTelegramKey(ctx, key)
		if err != nil {
			return err
		}

		created := false
		var userID int64
		if user != nil {
			userID = user.ID
		} else {
			userID, err = repos.Users.Create(ctx, &model.User{Name: name, Telegram: handle})
			if err != nil {
				return err
			}
			created = true
		}

		session, err := s.newSession(userID, assertion)
		if err != nil {
			return err
		}
		if err := repos.Sessions.Create(ctx, session); err != nil {
			return err
		}
		if err := uow.Commit(); err != nil {
			return err
		}

		result = &BindResult{UserID: userID, Created: created, Session: session}
		return nil
	})
	return result, err
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	err := s.db.WithWriteUnitOfWork(ctx, func(uow *database.UnitOfWork) error {
		if err := repository.NewSessionRepo(uow).DeleteByID(ctx, sessionID); err != nil {
			return err
		}
		return uow.Commit()
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// FindSession は有効なセッションを取得する。期限切れまたは存在しない場合はnilを返す。
func (s *Service) FindSession(ctx context.Context, sessionID string) (*model.Session, error) {
	var session *model.Session
	err := s.db.WithUnitOfWork(ctx, func(uow *database.UnitOfWork) error {
		var err error
		session, err = repository.NewSessionRepo(uow).FindByID(ctx, sessionID, s.now())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return session, nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	var user *model.User
	err := s.db.WithUnitOfWork(ctx, func(uow *database.UnitOfWork) error {
		repos := repository.New(uow)
		session, err := repos.Sessions.FindByID(ctx, sessionID, s.now())
		if err != nil {
			return err
		}
		if session == nil {
			return nil
		}
		user, err = repos.Users.FindByID(ctx, session.UserID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

func (s *Service) newSession(userID int64, assertion map[string]string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	return &model.Session{
		ID:        sessionID,
		UserID:    userID,
		SubjectID: assertion["id"],
		FirstName: assertion["first_name"],
		LastName:  assertion["last_name"],
		Username:  assertion["username"],
		PhotoURL:  assertion["photo_url"],
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}, nil
}

func (s *Service) record(result string) {
	if s.recorder != nil {
		s.recorder.RecordLogin(result)
	}
}

// loginErrorFor は検証エラーをUI向けのエラーに変換する。
func loginErrorFor(err error) *model.APIError {
	switch {
	case errors.Is(err, ErrSecretMissing):
		return model.NewLoginDisabledError()
	case errors.Is(err, ErrAssertionStale):
		return model.NewAssertionStaleError()
	default:
		return model.NewSignatureInvalidError()
	}
}

// displayName は姓名から表示名を作る。姓名が空の場合はハンドルを使う。
func displayName(firstName, lastName, handle string) string {
	name := strings.TrimSpace(strings.TrimSpace(firstName) + " " + strings.TrimSpace(lastName))
	if name == "" {
		return handle
	}
	return name
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
