package domain

import "time"

// QuotaLedger tracks one brand's monthly budgets and their consumption.
// Invariant: every *Used counter stays within its quota; consumption is a
// guarded atomic increment and refunds are atomic decrements.
//
// Fields:
//   - Period: UTC month as "YYYY-MM".
//   - QuotaWoofs / QuotaImages / QuotaVideos: plan budgets.
//   - WoofsUsed / ImagesUsed / VideosUsed: consumption counters.
type QuotaLedger struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	BrandID     string    `json:"brand_id"     gorm:"type:varchar(64);not null;uniqueIndex:ux_quota_brand_period,priority:1"`
	Period      string    `json:"period"       gorm:"type:varchar(7);not null;uniqueIndex:ux_quota_brand_period,priority:2"`
	QuotaWoofs  int       `json:"quota_woofs"  gorm:"not null;default:0"`
	QuotaImages int       `json:"quota_images" gorm:"not null;default:0"`
	QuotaVideos int       `json:"quota_videos" gorm:"not null;default:0"`
	WoofsUsed   int       `json:"woofs_used"   gorm:"not null;default:0"`
	ImagesUsed  int       `json:"images_used"  gorm:"not null;default:0"`
	VideosUsed  int       `json:"videos_used"  gorm:"not null;default:0"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for QuotaLedger.
func (QuotaLedger) TableName() string { return "quota_ledgers" }

// Remaining returns the unspent budget in each unit.
func (l QuotaLedger) Remaining() Cost {
	return Cost{
		Woofs:  l.QuotaWoofs - l.WoofsUsed,
		Images: l.QuotaImages - l.ImagesUsed,
		Videos: l.QuotaVideos - l.VideosUsed,
	}
}

// Cost is an amount charged against a ledger, in each budget unit.
type Cost struct {
	Woofs  int `json:"woofs"`
	Images int `json:"images"`
	Videos int `json:"videos"`
}

// IsZero reports whether nothing is charged.
func (c Cost) IsZero() bool { return c.Woofs == 0 && c.Images == 0 && c.Videos == 0 }

// Fits reports whether c can be paid from remaining.
func (c Cost) Fits(remaining Cost) bool {
	return c.Woofs <= remaining.Woofs && c.Images <= remaining.Images && c.Videos <= remaining.Videos
}

// Quota transaction types.
const (
	QuotaConsume = "consume"
	QuotaRefund  = "refund"
)

// QuotaTransaction is an append-only audit row for every consume and refund.
type QuotaTransaction struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	LedgerID  string    `json:"ledger_id"  gorm:"type:char(36);not null;index"`
	BrandID   string    `json:"brand_id"   gorm:"type:varchar(64);not null;index"`
	Type      string    `json:"type"       gorm:"type:varchar(16);not null"`
	Woofs     int       `json:"woofs"`
	Images    int       `json:"images"`
	Videos    int       `json:"videos"`
	Reference string    `json:"reference"  gorm:"type:varchar(128);index"`
	Note      string    `json:"note,omitempty" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for QuotaTransaction.
func (QuotaTransaction) TableName() string { return "quota_transactions" }
