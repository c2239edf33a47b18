package client

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/fieldops/core"
)

type Client struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	Address    string    `json:"address"`
	City       string    `json:"city"`
	PostalCode string    `json:"postal_code"`
	Notes      string    `json:"notes"`
	CreatedAt  time.Time `json:"created_at"` // UTC
	UpdatedAt  time.Time `json:"updated_at"` // UTC
}

// NewClient contains information needed to create a new Client.
type NewClient struct {
	Name       string `json:"name" validate:"required,notblank,max=200"`
	Email      string `json:"email" validate:"omitempty,email"`
	Phone      string `json:"phone" validate:"omitempty,phone"`
	Address    string `json:"address" validate:"max=300"`
	City       string `json:"city" validate:"max=100"`
	PostalCode string `json:"postal_code" validate:"max=20"`
	Notes      string `json:"notes" validate:"max=2000"`
}

func (nc *NewClient) clean() {
	nc.Name = core.CleanString(nc.Name)
	nc.Email = core.CleanString(nc.Email, true /* lower */)
	nc.Phone = core.CleanString(nc.Phone)
	nc.Address = core.CleanString(nc.Address)
	nc.City = core.CleanString(nc.City)
	nc.PostalCode = core.CleanString(nc.PostalCode)
	nc.Notes = core.CleanString(nc.Notes)
}

func (nc *NewClient) Validate(validate *validator.Validate) error {
	nc.clean()
	return validate.Struct(nc)
}

// UpdateClient replaces every field of a Client; an empty name keeps the current one.
type UpdateClient NewClient

func (uc *UpdateClient) Validate(orig Client, validate *validator.Validate) error {
	nc := (*NewClient)(uc)
	nc.clean()
	if nc.Name == "" {
		nc.Name = orig.Name
	}
	return validate.Struct(nc)
}

type QueryFilter struct {
	Search string `query:"search"`
	City   string `query:"city"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.City = core.CleanString(qf.City)
}

var OrderingFields = map[string]string{
	"name":       "name",
	"city":       "city",
	"created_at": "created_at",
}
