package types

import "time"

type CampaignLink struct {
	ID           int64     `json:"id" db:"id"`
	UserID       int64     `json:"user_id" db:"user_id"`
	ShortCode    string    `json:"short_code" db:"short_code"`
	OriginalLink string    `json:"original_link" db:"original_link"`
	UtmSource    *string   `json:"utm_source" db:"utm_source"`
	UtmMedium    *string   `json:"utm_medium" db:"utm_medium"`
	UtmCampaign  *string   `json:"utm_campaign" db:"utm_campaign"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

type LinkCache struct {
	OriginalLink string `json:"original_link"`
	UserID       int64  `json:"user_id"`
}

type Conversion struct {
	ID        int64             `json:"id" db:"id"`
	VisitorID string            `json:"visitor_id" db:"visitor_id"`
	Form      string            `json:"form" db:"form"`
	Page      string            `json:"page" db:"page"`
	Params    map[string]string `json:"params" db:"-"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}
