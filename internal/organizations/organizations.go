// Package organizations holds the tenant registry. Every core entry point
// receives a validated organization id and trusts it; authentication happens
// outside this module.
package organizations

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// OrganizationNotFoundError represents an error when an organization is not found
type OrganizationNotFoundError struct {
	Slug string
}

func (e *OrganizationNotFoundError) Error() string {
	return fmt.Sprintf("organization not found: %s", e.Slug)
}

// NewOrganizationNotFoundError creates a new OrganizationNotFoundError
func NewOrganizationNotFoundError(slug string) *OrganizationNotFoundError {
	return &OrganizationNotFoundError{Slug: slug}
}

// Organization represents one tenant of the attribution platform
type Organization struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Slug      string    `gorm:"unique;not null" json:"slug"`
	Name      string    `gorm:"not null" json:"name"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateOrganization creates a new organization
func CreateOrganization(db *gorm.DB, org *Organization) error {
	org.CreatedAt = time.Now().UTC()
	if !org.Active {
		org.Active = true
	}
	return db.Create(org).Error
}

// GetOrganizationByID retrieves an organization by its ID
func GetOrganizationByID(db *gorm.DB, id uint) (Organization, error) {
	var org Organization
	if err := db.First(&org, id).Error; err != nil {
		return Organization{}, err
	}
	return org, nil
}

// GetOrganizationBySlug retrieves an organization by its slug
func GetOrganizationBySlug(db *gorm.DB, slug string) (*Organization, error) {
	var org Organization
	if err := db.Where("slug = ?", slug).First(&org).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewOrganizationNotFoundError(slug)
		}
		return nil, fmt.Errorf("unexpected error querying organization: %w", err)
	}
	return &org, nil
}

// GetActiveOrganizations retrieves all active organizations
func GetActiveOrganizations(db *gorm.DB) ([]Organization, error) {
	var orgs []Organization
	if err := db.Where("active = ?", true).Find(&orgs).Error; err != nil {
		return nil, fmt.Errorf("failed to get organizations: %w", err)
	}
	return orgs, nil
}
