package models

import "time"

// FileType は入力/出力の区別です。
type FileType string

const (
	FileTypeInput  FileType = "INPUT"
	FileTypeOutput FileType = "OUTPUT"
)

// File はオブジェクトストレージ上の1オブジェクトに対応するメタデータです。
type File struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	OriginalName string    `json:"originalName"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mimeType"`
	Bucket       string    `json:"bucket"`
	StorageKey   string    `json:"storageKey"`
	Type         FileType  `json:"type"`
	ExpiresAt    time.Time `json:"expiresAt"`
	UserID       *string   `json:"userId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Plan はユーザーの契約プランです。
type Plan string

const (
	PlanFree       Plan = "FREE"
	PlanPremium    Plan = "PREMIUM"
	PlanEnterprise Plan = "ENTERPRISE"
)

// User は登録ユーザーです。PasswordHash が nil のユーザーも許容します。
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	PasswordHash  *string    `json:"-"`
	Plan          Plan       `json:"plan"`
	DailyUsage    int        `json:"dailyUsage"`
	LastUsageDate *time.Time `json:"lastUsageDate,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}
