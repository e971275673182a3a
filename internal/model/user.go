package model

import "time"

// User はディレクトリに登録されたユーザーのプロフィールを表す。
type User struct {
	ID           int64
	Name         string
	Email        string
	Location     string
	Telegram     string // 正規化済みのハンドル（@name）
	Website      string
	Bio          string
	Skills       string
	Availability string
	CreatedAt    time.Time
}

// UserWithServices は一覧表示用に、ユーザーとサービスタグ名の連結文字列をまとめたもの。
// Servicesのタグの並び順は保証されない。
type UserWithServices struct {
	User
	Services string
}

// UserProfile はプロフィール表示用に、ユーザーと紐づくサービスタグをまとめたもの。
type UserProfile struct {
	User
	Tags []ServiceTag
}

// ServiceTag はユーザーが提供できる奉仕のカテゴリを表す。
type ServiceTag struct {
	ID       int64
	Name     string
	Category string
}

// Session はユーザーのログインセッションを表す。
// Telegramログインで検証済みの公開フィールドを保持する。
type Session struct {
	ID        string
	UserID    int64
	SubjectID string
	FirstName string
	LastName  string
	Username  string
	PhotoURL  string
	ExpiresAt time.Time
	CreatedAt time.Time
}
