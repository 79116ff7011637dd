package models

// Requests for the admin HTTP endpoints. Defined in domain for consistency and reuse.

type CreateMonitorRequest struct {
	OwnerID  string        `json:"owner_id" validate:"required,max=128"`
	Subject  string        `json:"subject" validate:"required,max=256"`
	Category string        `json:"category" validate:"max=128"`
	Config   MonitorConfig `json:"config"`
}

type UpdateMonitorRequest struct {
	ID       string         `param:"id" json:"-" validate:"required"`
	Subject  *string        `json:"subject,omitempty" validate:"omitempty,min=1,max=256"`
	Category *string        `json:"category,omitempty" validate:"omitempty,max=128"`
	Config   *MonitorConfig `json:"config,omitempty"`
}

type ListMonitorsRequest struct {
	OwnerID string `query:"owner_id" validate:"required"`
	Status  string `query:"status" validate:"omitempty,oneof=active paused error deleted"`
}

type ListAlertsRequest struct {
	ID     string `param:"id" validate:"required"`
	Unread bool   `query:"unread"`
	Limit  int    `query:"limit" default:"50" validate:"gte=1,lte=500"`
}

type SnapshotRangeRequest struct {
	ID    string `param:"id" validate:"required"`
	From  string `query:"from"`
	To    string `query:"to"`
	Limit int    `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type AggregationRequest struct {
	ID     string `param:"id" validate:"required"`
	Period string `query:"period" default:"daily" validate:"oneof=daily weekly monthly"`
	Start  string `query:"start" validate:"required"`
}

type BackfillRequest struct {
	ID      string   `param:"id" json:"-" validate:"required"`
	Start   string   `json:"start" validate:"required"`
	End     string   `json:"end" validate:"required"`
	Periods []Period `json:"periods" validate:"dive,oneof=daily weekly monthly"`
}

type FeedbackRequest struct {
	ID       string `param:"id" json:"-" validate:"required"`
	Feedback string `json:"feedback" validate:"required,max=2000"`
}

type DashboardRequest struct {
	OwnerID string `query:"owner_id" validate:"required"`
}

type RetentionRequest struct {
	OlderThanDays int  `json:"older_than_days" default:"365" validate:"gte=1"`
	DryRun        bool `json:"dry_run"`
}

type DeadLettersRequest struct {
	Lane  string `query:"lane" validate:"omitempty,oneof=critical high normal low"`
	Limit int    `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}

// RetentionReport is returned by retention runs.
type RetentionReport struct {
	Cutoff       string `json:"cutoff"`
	DryRun       bool   `json:"dry_run"`
	Monitors     int    `json:"monitors"`
	Snapshots    int64  `json:"snapshots"`
	Aggregations int64  `json:"aggregations"`
}
