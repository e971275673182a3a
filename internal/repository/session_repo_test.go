package repository

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/seva/internal/database"
	"github.com/hitoshi/seva/internal/database/dbtest"
	"github.com/hitoshi/seva/internal/model"
)

func TestSessionRepo_FindByID_IgnoresExpired(t *testing.T) {
	dbtest.Each(t, func(t *testing.T, db *database.DB) {
		ctx := context.Background()
		userID := createUser(t, db, &model.User{Name: "s"})
		now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

		withRepos(t, db, func(repos *Repositories) error {
			if err := repos.Sessions.Create(ctx, &model.Session{
				ID: "live", UserID: userID, Username: "radha",
				ExpiresAt: now.Add(time.Hour), CreatedAt: now,
			}); err != nil {
				return err
			}
			return repos.Sessions.Create(ctx, &model.Session{
				ID: "expired", UserID: userID,
				ExpiresAt: now.Add(-time.Second), CreatedAt: now.Add(-time.Hour),
			})
		})

		withRepos(t, db, func(repos *Repositories) error {
			live, err := repos.Sessions.FindByID(ctx, "live", now)
			if err != nil {
				return err
			}
			if live == nil || live.UserID != userID || live.Username != "radha" {
				t.Errorf("live session = %+v", live)
			}
			if live != nil && !live.ExpiresAt.Equal(now.Add(time.Hour)) {
				t.Errorf("ExpiresAt = %v", live.ExpiresAt)
			}

			expired, err := repos.Sessions.FindByID(ctx, "expired", now)
			if err != nil {
				return err
			}
			if expired != nil {
				t.Errorf("expired session should not be returned: %+v", expired)
			}

			n, err := repos.Sessions.DeleteExpired(ctx, now)
			if err != nil {
				return err
			}
			if n != 1 {
				t.Errorf("deleted = %d, want 1", n)
			}
			return nil
		})
	})
}

func TestSessionRepo_DeleteByUserID(t *testing.T) {
	db := dbtest.NewSQLite(t)
	ctx := context.Background()
	userID := createUser(t, db, &model.User{Name: "s"})
	now := time.Now()

	withRepos(t, db, func(repos *Repositories) error {
		for _, id := range []string{"a", "b"} {
			if err := repos.Sessions.Create(ctx, &model.Session{ID: id, UserID: userID, ExpiresAt: now.Add(time.Hour), CreatedAt: now}); err != nil {
				return err
			}
		}
		return repos.Sessions.DeleteByUserID(ctx, userID)
	})

	withRepos(t, db, func(repos *Repositories) error {
		got, err := repos.Sessions.FindByID(ctx, "a", now)
		if err != nil {
			return err
		}
		if got != nil {
			t.Error("session a should be deleted")
		}
		return nil
	})
}
