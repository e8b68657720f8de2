// Package projects is the relational record-keeper for studio projects.
// It owns one row per project (owner, workspace subdirectory, language) and
// nothing else; the workspace subdirectory itself is managed by the
// filesystem sandbox, not this package.
package projects

import (
	"time"

	"gorm.io/gorm"
)

// Project is one tenant-owned workspace allocation: a row here corresponds
// to a `projects/<id>` subdirectory under the sandbox root.
type Project struct {
	ID        string         `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Name      string `json:"name" gorm:"not null"`
	Language  string `json:"language"`
	OwnerID   string `json:"owner_id" gorm:"not null;index"`
	Workspace string `json:"workspace" gorm:"not null"` // relative to the sandbox root, e.g. "projects/<id>"
	Archived  bool   `json:"archived" gorm:"default:false"`
}
