package model

import "time"

// Project はコミュニティのプロジェクト（協力者募集）を表す。
type Project struct {
	ID         int64
	Title      string
	Mission    string
	Needs      string
	Links      string
	OwnerEmail string
	CreatedAt  time.Time
}

// ProjectWithTags はプロジェクトと紐づくサービスタグをまとめたもの。
type ProjectWithTags struct {
	Project
	Tags []ServiceTag
}
