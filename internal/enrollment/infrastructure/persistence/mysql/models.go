// Package mysql implements the enrollment repositories on GORM. Encryption of
// PII columns happens at this boundary: callers work with plaintext
// structures, storage only ever sees ciphertext.
package mysql

import (
	"time"

	"gorm.io/gorm"
)

// FormInstanceModel maps form_instances.
type FormInstanceModel struct {
	gorm.Model
	Slug     string `gorm:"column:slug;type:varchar(100);uniqueIndex;not null"`
	Name     string `gorm:"column:name;type:varchar(200);not null"`
	Utility  string `gorm:"column:utility;type:varchar(100);index"`
	FormType string `gorm:"column:form_type;type:varchar(20);not null;default:'enrollment'"`
	// APIPassword is stored encrypted.
	APIEndpoint string `gorm:"column:api_endpoint;type:varchar(255)"`
	APIUsername string `gorm:"column:api_username;type:varchar(100)"`
	APIPassword string `gorm:"column:api_password;type:text"`
	TestMode    bool   `gorm:"column:test_mode;not null;default:false"`
	IsActive    bool   `gorm:"column:is_active;index;not null;default:true"`
	// Settings is the JSON settings blob.
	Settings string `gorm:"column:settings;type:text"`
}

// TableName implements schema.Tabler.
func (FormInstanceModel) TableName() string { return "form_instances" }

// SubmissionModel maps submissions.
type SubmissionModel struct {
	gorm.Model
	InstanceID    uint   `gorm:"column:instance_id;index:idx_session_instance,priority:2;index;not null"`
	SessionID     string `gorm:"column:session_id;type:varchar(64);index:idx_session_instance,priority:1;not null"`
	AccountNumber string `gorm:"column:account_number;type:varchar(64);index"`
	CustomerName  string `gorm:"column:customer_name;type:varchar(200)"`
	DeviceType    string `gorm:"column:device_type;type:varchar(50)"`
	// FormData is the encrypted accumulated field map.
	FormData           string     `gorm:"column:form_data;type:longtext"`
	Status             string     `gorm:"column:status;type:varchar(20);index;not null;default:'in_progress'"`
	Step               int        `gorm:"column:step;not null;default:1"`
	ConfirmationNumber string     `gorm:"column:confirmation_number;type:varchar(32)"`
	IPAddress          string     `gorm:"column:ip_address;type:varchar(45)"`
	UserAgent          string     `gorm:"column:user_agent;type:varchar(255)"`
	IsTest             bool       `gorm:"column:is_test;index;not null;default:false"`
	CompletedAt        *time.Time `gorm:"column:completed_at;type:datetime"`
}

// TableName implements schema.Tabler.
func (SubmissionModel) TableName() string { return "submissions" }

// ResumeTokenModel maps resume_tokens.
type ResumeTokenModel struct {
	gorm.Model
	SessionID  string    `gorm:"column:session_id;type:varchar(64);index;not null"`
	InstanceID uint      `gorm:"column:instance_id;index;not null"`
	Token      string    `gorm:"column:token;type:varchar(128);uniqueIndex;not null"`
	Email      string    `gorm:"column:email;type:varchar(200);not null"`
	ExpiresAt  time.Time `gorm:"column:expires_at;type:datetime;not null"`
	Used       bool      `gorm:"column:used;not null;default:false"`
}

// TableName implements schema.Tabler.
func (ResumeTokenModel) TableName() string { return "resume_tokens" }

// RetryQueueModel maps submission_retry_queue.
type RetryQueueModel struct {
	gorm.Model
	SubmissionID uint   `gorm:"column:submission_id;index;not null"`
	InstanceID   uint   `gorm:"column:instance_id;index;not null"`
	ErrorMessage string `gorm:"column:error_message;type:text"`
	Attempts     int    `gorm:"column:attempts;not null;default:0"`
	Status       string `gorm:"column:status;type:varchar(20);index;not null;default:'pending'"`
}

// TableName implements schema.Tabler.
func (RetryQueueModel) TableName() string { return "submission_retry_queue" }

// LogEntryModel maps form_logs. Append-only.
type LogEntryModel struct {
	ID           uint      `gorm:"primaryKey"`
	Level        string    `gorm:"column:level;type:varchar(10);index;not null"`
	Message      string    `gorm:"column:message;type:varchar(500);not null"`
	Context      string    `gorm:"column:context;type:text"`
	InstanceID   uint      `gorm:"column:instance_id;index"`
	SubmissionID uint      `gorm:"column:submission_id;index"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime;index"`
}

// TableName implements schema.Tabler.
func (LogEntryModel) TableName() string { return "form_logs" }

// StepEventModel maps form_step_events. Analytics only.
type StepEventModel struct {
	ID         uint      `gorm:"primaryKey"`
	InstanceID uint      `gorm:"column:instance_id;index;not null"`
	SessionID  string    `gorm:"column:session_id;type:varchar(64);index;not null"`
	Step       int       `gorm:"column:step;not null"`
	Event      string    `gorm:"column:event;type:varchar(20);not null"`
	IsTest     bool      `gorm:"column:is_test;not null;default:false"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime;index"`
}

// TableName implements schema.Tabler.
func (StepEventModel) TableName() string { return "form_step_events" }

// Migrate creates or updates all enrollment tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&FormInstanceModel{},
		&SubmissionModel{},
		&ResumeTokenModel{},
		&RetryQueueModel{},
		&LogEntryModel{},
		&StepEventModel{},
	)
}
