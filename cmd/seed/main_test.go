package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boxoffice/internal/repository/memstore"
)

func TestBuildCatalog(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := buildCatalog(now, "Opening", 2, 40)

	assert.Equal(t, c.FeeSchedule.ID, c.Organization.FeeScheduleID)
	assert.Equal(t, c.Organization.ID, c.Event.OrganizationID)
	require.Len(t, c.TicketTypes, 2)
	require.Len(t, c.Pricing, 2)
	assert.Equal(t, int64(1500), c.TicketTypes[0].PriceInCents)
	assert.Equal(t, int64(4000), c.TicketTypes[1].PriceInCents)
	assert.Equal(t, c.TicketTypes[1].ID, c.Pricing[1].TicketTypeID)
	assert.Len(t, c.FeeSchedule.Ranges, 3)
}

func TestCatalogStore(t *testing.T) {
	ctx := context.Background()
	repos := memstore.New().Repositories()
	c := buildCatalog(time.Now().UTC(), "Opening", 1, 25)

	require.NoError(t, c.store(ctx, repos))

	tt, err := repos.TicketTypes.GetTicketType(ctx, c.TicketTypes[0].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(25), tt.Capacity)

	pricing, err := repos.TicketTypes.ListTicketPricing(ctx, tt.ID)
	require.NoError(t, err)
	assert.Len(t, pricing, 1)

	org, err := repos.Organizations.GetOrganization(ctx, c.Organization.ID)
	require.NoError(t, err)
	assert.Equal(t, "Demo Promotions", org.Name)
}
