package dbschema

import (
	"github.com/shopspring/decimal"

	"orgai/services/chat-api/internal/domain/spend"
	"orgai/services/chat-api/internal/infrastructure/database"
)

func init() {
	database.RegisterSchemaForAutoMigrate(SpendRecord{})
}

// SpendRecord is one user's weekly spend row. The (week_start, user_email)
// pair is unique, so concurrent creates collide on the constraint, and
// Version guards optimistic updates.
type SpendRecord struct {
	BaseModel
	WeekStart string          `gorm:"type:varchar(10);uniqueIndex:ux_spend_week_user,priority:1;not null"`
	UserEmail string          `gorm:"type:varchar(256);uniqueIndex:ux_spend_week_user,priority:2;not null"`
	GroupName string          `gorm:"type:varchar(100);index;not null"`
	Spent     decimal.Decimal `gorm:"type:numeric(18,10);not null"`
	Version   int64           `gorm:"not null"`
}

// NewSchemaSpendRecord creates a database row from the domain record.
func NewSchemaSpendRecord(r *spend.Record) *SpendRecord {
	return &SpendRecord{
		WeekStart: r.WeekStart,
		UserEmail: r.UserEmail,
		GroupName: r.GroupName,
		Spent:     r.Spent,
		Version:   r.Version,
	}
}

// EtoD converts the database row to the domain record.
func (r *SpendRecord) EtoD() *spend.Record {
	return &spend.Record{
		WeekStart: r.WeekStart,
		UserEmail: r.UserEmail,
		GroupName: r.GroupName,
		Spent:     r.Spent,
		Version:   r.Version,
	}
}
