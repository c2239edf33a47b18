package attachment

import (
	"io"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// MaxSize is the largest accepted upload, in bytes.
const MaxSize = 25 << 20

type Attachment struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	WorkOrderID string    `json:"work_order_id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Key         string    `json:"-"`
	UploadedBy  string    `json:"uploaded_by"`
	CreatedAt   time.Time `json:"created_at"` // UTC
}

// Upload is a file being attached to a work order.
type Upload struct {
	WorkOrderID string    `validate:"required"`
	Name        string    `validate:"required,max=255"`
	Size        int64     `validate:"gt=0,max=26214400"`
	Content     io.Reader `validate:"required"`
}

func (up *Upload) Validate(validate *validator.Validate) error {
	up.Name = SanitizeName(up.Name)
	return validate.Struct(up)
}

// SanitizeName keeps the base name of a file and drops characters unsafe in object keys.
func SanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return -1
		case r == '/' || r == '?' || r == '#' || r == '%':
			return '_'
		}
		return r
	}, name)
}
