package domain

import (
	"strings"
	"time"
)

// Client is the location-side cache of a central credit account. The whole
// table is replaced on every pull, so local credit decrements only last until
// the next refresh.
type Client struct {
	RUT             string     `json:"rut" gorm:"type:varchar(16);primaryKey"`
	FullName        string     `json:"full_name" gorm:"type:text;not null;default:''"`
	CreditLimit     int64      `json:"credit_limit" gorm:"not null;default:0"`
	CreditAvailable int64      `json:"credit_available" gorm:"not null;default:0"`
	BlockComment    string     `json:"block_comment" gorm:"type:text;not null;default:''"`
	Overdue         int64      `json:"overdue" gorm:"not null;default:0"`
	NextBillingAt   *time.Time `json:"next_billing_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"not null"`
}

func (Client) TableName() string { return "clients" }

// Blocked reports whether the block comment starts with the blocking prefix.
func (c Client) Blocked(prefix string) bool {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return false
	}
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(c.BlockComment)), strings.ToUpper(prefix))
}
