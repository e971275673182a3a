package user

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/seva/internal/database"
	"github.com/hitoshi/seva/internal/database/dbtest"
	"github.com/hitoshi/seva/internal/model"
	"github.com/hitoshi/seva/internal/repository"
	"github.com/hitoshi/seva/internal/security"
)

// --- モック ---

type mockChecker struct {
	validateFn  func(rawURL string) error
	reachableFn func(ctx context.Context, rawURL string, timeout time.Duration) error
}

func (m *mockChecker) ValidateURL(rawURL string) error {
	if m.validateFn != nil {
		return m.validateFn(rawURL)
	}
	return nil
}

func (m *mockChecker) CheckReachable(ctx context.Context, rawURL string, timeout time.Duration) error {
	if m.reachableFn != nil {
		return m.reachableFn(ctx, rawURL, timeout)
	}
	return nil
}

type mockRecorder struct {
	registrations int
}

func (m *mockRecorder) RecordRegistration() {
	m.registrations++
}

// --- ヘルパー ---

func seedTags(t *testing.T, db *database.DB, names ...string) []int64 {
	t.Helper()
	ctx := context.Background()

	tags := make([]model.ServiceTag, len(names))
	for i, name := range names {
		tags[i] = model.ServiceTag{Name: name, Category: "test"}
	}

	var ids []int64
	err := db.WithUnitOfWork(ctx, func(uow *database.UnitOfWork) error {
		repo := repository.NewTagRepo(uow)
		if _, err := repo.Seed(ctx, tags); err != nil {
			return err
		}
		all, err := repo.List(ctx)
		if err != nil {
			return err
		}
		byName := make(map[string]int64, len(all))
		for _, tag := range all {
			byName[tag.Name] = tag.ID
		}
		for _, name := range names {
			ids = append(ids, byName[name])
		}
		return uow.Commit()
	})
	if err != nil {
		t.Fatalf("failed to seed tags: %v", err)
	}
	return ids
}

func newTestService(db *database.DB, checker WebsiteChecker, config ServiceConfig) (*Service, *mockRecorder) {
	rec := &mockRecorder{}
	return NewService(db, security.NewContentSanitizer(), checker, rec, config), rec
}

func assertAPIError(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *model.APIError with code %s", err, code)
	}
	if apiErr.Code != code {
		t.Errorf("Code = %q, want %q", apiErr.Code, code)
	}
}

// --- テスト ---

func TestService_Register_CreatesProfileWithTags(t *testing.T) {
	dbtest.Each(t, func(t *testing.T, db *database.DB) {
		ids := seedTags(t, db, "design", "cooking")
		svc, rec := newTestService(db, nil, ServiceConfig{})

		profile, err := svc.Register(context.Background(), RegisterInput{
			Name:        "  Radha  ",
			Email:       "radha@example.com",
			Telegram:    "https://t.me/Radha_Dasi",
			Bio:         "<b>Graphic</b> designer",
			Skills:      "Design",
			ServiceTags: []int64{ids[0], ids[1], ids[0]},
		})
		if err != nil {
			t.Fatalf("Register returned error: %v", err)
		}

		if profile.ID <= 0 {
			t.Errorf("ID = %d, want generated ID", profile.ID)
		}
		if profile.Name != "Radha" {
			t.Errorf("Name = %q, want trimmed name", profile.Name)
		}
		if profile.Telegram != "@Radha_Dasi" {
			t.Errorf("Telegram = %q, want @Radha_Dasi", profile.Telegram)
		}
		if profile.Bio != "Graphic designer" {
			t.Errorf("Bio = %q, want markup stripped", profile.Bio)
		}
		if len(profile.Tags) != 2 {
			t.Errorf("Tags = %v, want 2 distinct tags", profile.Tags)
		}
		if rec.registrations != 1 {
			t.Errorf("registrations = %d, want 1", rec.registrations)
		}

		got, err := svc.Get(context.Background(), profile.ID)
		if err != nil {
			t.Fatalf("Get returned error: %v", err)
		}
		if got.Email != "radha@example.com" || len(got.Tags) != 2 {
			t.Errorf("Get = %+v", got)
		}
	})
}

func TestService_Register_Validation(t *testing.T) {
	db := dbtest.NewSQLite(t)
	svc, rec := newTestService(db, nil, ServiceConfig{})

	tests := []struct {
		name  string
		input RegisterInput
	}{
		{"empty name", RegisterInput{Name: "   "}},
		{"markup only name", RegisterInput{Name: "<script></script>"}},
		{"long name", RegisterInput{Name: strings.Repeat("a", maxNameLength+1)}},
		{"invalid email", RegisterInput{Name: "a", Email: "not-an-email"}},
		{"invalid handle", RegisterInput{Name: "a", Telegram: "@bad handle!"}},
		{"invalid website", RegisterInput{Name: "a", Website: "ftp://example.com"}},
		{"long bio", RegisterInput{Name: "a", Bio: strings.Repeat("b", maxFreeTextLength+1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.input)
			assertAPIError(t, err, model.ErrCodeValidation)
		})
	}
	if rec.registrations != 0 {
		t.Errorf("registrations = %d, want 0", rec.registrations)
	}
}

func TestService_Register_UnknownTag(t *testing.T) {
	dbtest.Each(t, func(t *testing.T, db *database.DB) {
		svc, _ := newTestService(db, nil, ServiceConfig{})

		_, err := svc.Register(context.Background(), RegisterInput{Name: "a", ServiceTags: []int64{999}})
		assertAPIError(t, err, model.ErrCodeTagNotFound)

		users, err := svc.List(context.Background(), repository.UserFilter{})
		if err != nil {
			t.Fatalf("List returned error: %v", err)
		}
		if len(users) != 0 {
			t.Errorf("users = %d, want 0 (insert must be discarded)", len(users))
		}
	})
}

func TestService_Register_DuplicateHandle(t *testing.T) {
	dbtest.Each(t, func(t *testing.T, db *database.DB) {
		svc, _ := newTestService(db, nil, ServiceConfig{})
		ctx := context.Background()

		if _, err := svc.Register(ctx, RegisterInput{Name: "first", Telegram: "@krishna"}); err != nil {
			t.Fatalf("first Register returned error: %v", err)
		}
		_, err := svc.Register(ctx, RegisterInput{Name: "second", Telegram: "@KRISHNA"})
		assertAPIError(t, err, model.ErrCodeConflict)
	})
}

func TestService_Register_WebsiteCheck(t *testing.T) {
	db := dbtest.NewSQLite(t)

	t.Run("unreachable", func(t *testing.T) {
		checker := &mockChecker{
			reachableFn: func(ctx context.Context, rawURL string, timeout time.Duration) error {
				if timeout != 2*time.Second {
					t.Errorf("timeout = %v, want 2s", timeout)
				}
				return errors.New("connection refused")
			},
		}
		svc, _ := newTestService(db, checker, ServiceConfig{CheckWebsite: true, WebsiteCheckTimeout: 2 * time.Second})

		_, err := svc.Register(context.Background(), RegisterInput{Name: "a", Website: "https://example.com"})
		assertAPIError(t, err, model.ErrCodeWebsiteUnreachable)
	})

	t.Run("blocked", func(t *testing.T) {
		checker := &mockChecker{
			validateFn: func(rawURL string) error { return errors.New("private address") },
		}
		svc, _ := newTestService(db, checker, ServiceConfig{CheckWebsite: true})

		_, err := svc.Register(context.Background(), RegisterInput{Name: "a", Website: "http://10.0.0.1"})
		assertAPIError(t, err, model.ErrCodeValidation)
	})

	t.Run("disabled", func(t *testing.T) {
		checker := &mockChecker{
			reachableFn: func(ctx context.Context, rawURL string, timeout time.Duration) error {
				t.Error("CheckReachable should not be called when disabled")
				return nil
			},
		}
		svc, _ := newTestService(db, checker, ServiceConfig{CheckWebsite: false})

		profile, err := svc.Register(context.Background(), RegisterInput{Name: "a", Website: "https://example.com"})
		if err != nil {
			t.Fatalf("Register returned error: %v", err)
		}
		if profile.Website != "https://example.com" {
			t.Errorf("Website = %q", profile.Website)
		}
	})
}

func TestService_List_Filters(t *testing.T) {
	dbtest.Each(t, func(t *testing.T, db *database.DB) {
		ids := seedTags(t, db, "design", "cooking", "music")
		svc, _ := newTestService(db, nil, ServiceConfig{})
		ctx := context.Background()

		mustRegister := func(in RegisterInput) {
			t.Helper()
			if _, err := svc.Register(ctx, in); err != nil {
				t.Fatalf("Register(%s) returned error: %v", in.Name, err)
			}
		}
		mustRegister(RegisterInput{Name: "Designer", Skills: "Design", Location: "Moscow", ServiceTags: []int64{ids[0], ids[1]}})
		mustRegister(RegisterInput{Name: "Cook", Skills: "Cooking", Location: "Riga", ServiceTags: []int64{ids[1]}})

		users, err := svc.List(ctx, repository.UserFilter{Query: "design"})
		if err != nil {
			t.Fatalf("List returned error: %v", err)
		}
		if len(users) != 1 || users[0].Name != "Designer" {
			t.Errorf("query filter = %+v", users)
		}

		users, err = svc.List(ctx, repository.UserFilter{TagIDs: []int64{ids[1]}})
		if err != nil {
			t.Fatalf("List returned error: %v", err)
		}
		if len(users) != 2 || users[0].Name != "Cook" {
			t.Errorf("tag filter = %+v, want both users newest first", users)
		}

		users, err = svc.List(ctx, repository.UserFilter{Location: "riga"})
		if err != nil {
			t.Fatalf("List returned error: %v", err)
		}
		if len(users) != 1 || users[0].Name != "Cook" {
			t.Errorf("location filter = %+v", users)
		}
	})
}

func TestService_Get_NotFound(t *testing.T) {
	db := dbtest.NewSQLite(t)
	svc, _ := newTestService(db, nil, ServiceConfig{})

	_, err := svc.Get(context.Background(), 42)
	assertAPIError(t, err, model.ErrCodeUserNotFound)
}

// TestService_Withdraw は退会処理がセッションとユーザーを削除することを検証する。
func TestService_Withdraw(t *testing.T) {
	dbtest.Each(t, func(t *testing.T, db *database.DB) {
		ids := seedTags(t, db, "design")
		svc, _ := newTestService(db, nil, ServiceConfig{})
		ctx := context.Background()

		profile, err := svc.Register(ctx, RegisterInput{Name: "leaving", ServiceTags: ids})
		if err != nil {
			t.Fatalf("Register returned error: %v", err)
		}

		err = db.WithUnitOfWork(ctx, func(uow *database.UnitOfWork) error {
			if err := repository.NewSessionRepo(uow).Create(ctx, &model.Session{
				ID:        "session-to-remove",
				UserID:    profile.ID,
				ExpiresAt: time.Now().Add(time.Hour),
				CreatedAt: time.Now(),
			}); err != nil {
				return err
			}
			return uow.Commit()
		})
		if err != nil {
			t.Fatalf("failed to create session: %v", err)
		}

		if err := svc.Withdraw(ctx, profile.ID); err != nil {
			t.Fatalf("Withdraw returned error: %v", err)
		}

		_, err = svc.Get(ctx, profile.ID)
		assertAPIError(t, err, model.ErrCodeUserNotFound)

		err = db.WithUnitOfWork(ctx, func(uow *database.UnitOfWork) error {
			session, err := repository.NewSessionRepo(uow).FindByID(ctx, "session-to-remove", time.Now())
			if err != nil {
				return err
			}
			if session != nil {
				t.Error("session should be deleted on withdraw")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("failed to look up session: %v", err)
		}
	})
}

func TestService_Withdraw_NotFound(t *testing.T) {
	db := dbtest.NewSQLite(t)
	svc, _ := newTestService(db, nil, ServiceConfig{})

	err := svc.Withdraw(context.Background(), 7)
	assertAPIError(t, err, model.ErrCodeUserNotFound)
}
