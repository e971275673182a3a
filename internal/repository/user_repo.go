package repository

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/hitoshi/seva/internal/database"
	"github.com/hitoshi/seva/internal/model"
)

// UserFilter はユーザー一覧の絞り込み条件。空のフィールドは条件に含めない。
type UserFilter struct {
	// Query は名前・自己紹介・スキルに対する大文字小文字を区別しない部分一致。
	Query string
	// Location は所在地に対する大文字小文字を区別しない部分一致。
	Location string
	// TagIDs は指定したタグをすべて持つユーザーに絞り込む（他のタグを持っていてもよい）。
	TagIDs []int64
}

// ServicesSeparator は一覧のサービスタグ名を連結する区切り文字。
const ServicesSeparator = ", "

const userColumns = `u.id AS id, u.name AS name, u.email AS email, u.location AS location,
	u.telegram AS telegram, u.website AS website, u.bio AS bio, u.skills AS skills,
	u.availability AS availability, u.created_at AS created_at`

// UserRepo はUnitOfWorkを使用したユーザーリポジトリ。
type UserRepo struct {
	uow *database.UnitOfWork
	now func() time.Time
}

// NewUserRepo はUserRepoを生成する。
func NewUserRepo(uow *database.UnitOfWork) *UserRepo {
	return &UserRepo{uow: uow, now: time.Now}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *UserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	row, err := r.uow.QueryOne(ctx, database.SQL("SELECT "+userColumns+" FROM users u WHERE u.id = ").Arg(id))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	user := scanUser(row)
	return &user, nil
}

// FindByTelegramKey は小文字化したTelegramハンドルでユーザーを検索する。見つからない場合はnilを返す。
func (r *UserRepo) FindByTelegramKey(ctx context.Context, key string) (*model.User, error) {
	row, err := r.uow.QueryOne(ctx, database.SQL("SELECT "+userColumns+" FROM users u WHERE u.telegram_key = ").Arg(key))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by telegram handle: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	user := scanUser(row)
	return &user, nil
}

// Create はユーザーを作成し、採番されたIDとCreatedAtをuserに設定する。
// 照合用のtelegram_keyと検索用のsearch_textはここで導出する。
func (r *UserRepo) Create(ctx context.Context, user *model.User) (int64, error) {
	createdAt := r.now().UTC().Truncate(time.Millisecond)

	var telegramKey any
	if user.Telegram != "" {
		telegramKey = strings.ToLower(strings.TrimPrefix(user.Telegram, "@"))
	}

	id, err := r.uow.InsertReturningID(ctx, database.InsertInto("users").
		Set("name", user.Name).
		Set("email", database.NullIfEmpty(user.Email)).
		Set("location", database.NullIfEmpty(user.Location)).
		Set("telegram", database.NullIfEmpty(user.Telegram)).
		Set("telegram_key", telegramKey).
		Set("website", database.NullIfEmpty(user.Website)).
		Set("bio", database.NullIfEmpty(user.Bio)).
		Set("skills", database.NullIfEmpty(user.Skills)).
		Set("availability", database.NullIfEmpty(user.Availability)).
		Set("search_text", SearchText(user.Name, user.Bio, user.Skills)).
		Set("location_search", foldCase(user.Location)).
		Set("created_at", database.ToMillis(createdAt)))
	if err != nil {
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}

	user.ID = id
	user.CreatedAt = createdAt
	return id, nil
}

// AddServiceTags はユーザーにサービスタグを紐づける。重複したタグIDは1回だけ挿入する。
func (r *UserRepo) AddServiceTags(ctx context.Context, userID int64, tagIDs []int64) error {
	for _, tagID := range dedupeIDs(tagIDs) {
		_, err := r.uow.Exec(ctx, database.SQL("INSERT INTO user_service_tags (user_id, tag_id) VALUES (").
			Args(userID, tagID).Raw(")"))
		if err != nil {
			return fmt.Errorf("failed to add service tag %d: %w", tagID, err)
		}
	}
	return nil
}

// List は条件に一致するユーザーを、連結したサービスタグ名とともに登録日時の新しい順に返す。
// タグ条件は指定タグをすべて持つユーザーに一致する（上位集合でもよい）。
func (r *UserRepo) List(ctx context.Context, filter UserFilter) ([]model.UserWithServices, error) {
	stmt := database.SQL("SELECT " + userColumns + ", ").
		GroupConcat("st.name", ServicesSeparator).
		Raw(` AS services
FROM users u
LEFT JOIN user_service_tags ust ON u.id = ust.user_id
LEFT JOIN service_tags st ON ust.tag_id = st.id
WHERE 1 = 1`)

	if q := strings.TrimSpace(filter.Query); q != "" {
		stmt.Raw(" AND u.search_text LIKE ").Arg(containsPattern(q)).Raw(` ESCAPE '\'`)
	}
	if loc := strings.TrimSpace(filter.Location); loc != "" {
		stmt.Raw(" AND u.location_search LIKE ").Arg(containsPattern(loc)).Raw(` ESCAPE '\'`)
	}
	if tagIDs := dedupeIDs(filter.TagIDs); len(tagIDs) > 0 {
		stmt.Raw(" AND u.id IN (SELECT user_id FROM user_service_tags WHERE tag_id IN (").
			Args(database.Int64s(tagIDs)...).
			Raw(") GROUP BY user_id HAVING COUNT(DISTINCT tag_id) = ").
			Arg(int64(len(tagIDs))).
			Raw(")")
	}
	stmt.Raw(" GROUP BY u.id ORDER BY u.created_at DESC, u.id DESC")

	rows, err := r.uow.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	users := make([]model.UserWithServices, 0, len(rows))
	for _, row := range rows {
		users = append(users, model.UserWithServices{
			User:     scanUser(row),
			Services: row.String("services"),
		})
	}
	return users, nil
}

// DeleteByID は指定IDのユーザーを削除する。
func (r *UserRepo) DeleteByID(ctx context.Context, id int64) error {
	if _, err := r.uow.Exec(ctx, database.SQL("DELETE FROM users WHERE id = ").Arg(id)); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// searchFieldSeparator はsearch_text内のフィールド区切り。
// foldCaseが制御文字を取り除くため、検索語に現れることはなく、フィールドをまたいだ一致は起きない。
const searchFieldSeparator = "\x1f"

// SearchText は部分一致検索用に名前・自己紹介・スキルを連結して小文字化する。
// 大文字小文字の畳み込みをGo側で行うことで、方言による差が出ないようにする。
func SearchText(name, bio, skills string) string {
	return strings.Join([]string{foldCase(name), foldCase(bio), foldCase(skills)}, searchFieldSeparator)
}

// foldCase は小文字化し、改行などの制御文字を空白に置き換える。
func foldCase(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return unicode.ToLower(r)
	}, s)
}

// containsPattern はLIKE用の部分一致パターンを作る。ワイルドカード文字はエスケープする。
func containsPattern(s string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(foldCase(s))
	return "%" + escaped + "%"
}

func scanUser(row database.Row) model.User {
	return model.User{
		ID:           row.Int64("id"),
		Name:         row.String("name"),
		Email:        row.String("email"),
		Location:     row.String("location"),
		Telegram:     row.String("telegram"),
		Website:      row.String("website"),
		Bio:          row.String("bio"),
		Skills:       row.String("skills"),
		Availability: row.String("availability"),
		CreatedAt:    row.Time("created_at"),
	}
}

var _ UserRepository = (*UserRepo)(nil)
