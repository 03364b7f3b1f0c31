package organizations_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attriflow/internal/organizations"
	"attriflow/internal/testsupport"
)

func TestCreateAndFetchOrganization(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	org := &organizations.Organization{Slug: "acme", Name: "Acme Inc"}
	require.NoError(t, organizations.CreateOrganization(db, org))
	require.NotZero(t, org.ID)
	assert.True(t, org.Active)

	byID, err := organizations.GetOrganizationByID(db, org.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme", byID.Slug)

	bySlug, err := organizations.GetOrganizationBySlug(db, "acme")
	require.NoError(t, err)
	assert.Equal(t, org.ID, bySlug.ID)
}

func TestGetOrganizationBySlugNotFound(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	_, err := organizations.GetOrganizationBySlug(db, "ghost")
	var notFoundErr *organizations.OrganizationNotFoundError
	require.ErrorAs(t, err, &notFoundErr)
	assert.Equal(t, "ghost", notFoundErr.Slug)
}

func TestGetActiveOrganizations(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	testsupport.CreateTestOrganization(t, db, "alpha")
	dormant := testsupport.CreateTestOrganization(t, db, "beta")
	require.NoError(t, db.Model(&dormant).Update("active", false).Error)

	active, err := organizations.GetActiveOrganizations(db)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "alpha", active[0].Slug)
}
