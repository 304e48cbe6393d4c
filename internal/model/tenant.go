// internal/model/tenant.go
package model

import (
	"time"

	"github.com/google/uuid"
)

type Tenant struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	BotEnabled  bool      `db:"bot_enabled" json:"botEnabled"`
	Concurrency int       `db:"concurrency" json:"concurrency"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}
