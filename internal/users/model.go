package users

import (
	"strings"
	"time"
)

// User is a creator account. Accounts provisioned through Google OAuth have
// an empty password hash and can only sign in through the provider.
type User struct {
	ID            string    `gorm:"column:id;primaryKey;size:190;not null"`
	Email         string    `gorm:"column:email;size:320;not null;uniqueIndex:idx_users_email"`
	Name          string    `gorm:"column:name;size:320;not null;default:''"`
	PasswordHash  string    `gorm:"column:password_hash;size:128;not null;default:''"`
	OAuthProvider string    `gorm:"column:oauth_provider;size:32;not null;default:''"`
	OAuthSubject  string    `gorm:"column:oauth_subject;size:190;not null;default:''"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing creator accounts.
func (User) TableName() string {
	return "users"
}

// NormalizeEmail canonicalises an address for the unique login lookup.
func NormalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
