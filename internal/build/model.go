package build

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Kind string

const (
	KindCompile Kind = "compile"
	KindUpload  Kind = "upload"
)

// MaxOutput caps the stored toolchain output per build.
const MaxOutput = 64 * 1024

type Build struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Kind       Kind      `gorm:"not null;index"`
	Board      string    `gorm:"not null"`
	Port       string    `gorm:"column:port"`
	Success    bool      `gorm:"not null"`
	ExitCode   int       `gorm:"column:exit_code;not null"`
	Output     string    `gorm:"type:text"`
	DurationMS int64     `gorm:"column:duration_ms;not null"`
	CreatedAt  time.Time `gorm:"index"`
}

func (b *Build) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if len(b.Output) > MaxOutput {
		b.Output = strings.ToValidUTF8(b.Output[len(b.Output)-MaxOutput:], "")
	}
	return nil
}
