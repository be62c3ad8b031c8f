package user

import "time"

// User is the trust/economy record for one account. Identity issuance
// (registration, verification, credentials) lives outside this service;
// only the reputation ledger mutates the numeric fields.
type User struct {
	ID          string `gorm:"column:id;primaryKey"`
	Username    string `gorm:"column:username;uniqueIndex"`
	DisplayName string `gorm:"column:display_name"`
	Bio         string `gorm:"column:bio"`

	Reputation     int64 `gorm:"column:reputation"`
	Coins          int64 `gorm:"column:coins"`
	TotalCompleted int64 `gorm:"column:total_completed"`
	TotalFailed    int64 `gorm:"column:total_failed"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (User) TableName() string { return "users" }

const (
	InitialReputation int64 = 10
	InitialCoins      int64 = 100
)

// NewUser seeds the numeric fields with their starting values.
func NewUser(id, username string) *User {
	return &User{
		ID:         id,
		Username:   username,
		Reputation: InitialReputation,
		Coins:      InitialCoins,
	}
}

// Profile is the public read model returned by the profile endpoint.
type Profile struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	DisplayName    string `json:"display_name,omitempty"`
	Bio            string `json:"bio,omitempty"`
	Reputation     int64  `json:"reputation"`
	Coins          int64  `json:"coins"`
	TotalCompleted int64  `json:"total_completed"`
	TotalFailed    int64  `json:"total_failed"`
}

func (u *User) Profile() *Profile {
	return &Profile{
		ID:             u.ID,
		Username:       u.Username,
		DisplayName:    u.DisplayName,
		Bio:            u.Bio,
		Reputation:     u.Reputation,
		Coins:          u.Coins,
		TotalCompleted: u.TotalCompleted,
		TotalFailed:    u.TotalFailed,
	}
}
