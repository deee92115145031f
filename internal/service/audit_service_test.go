package service

import (
	"context"
	"testing"

	"emrcore/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogsFilterByClinic(t *testing.T) {
	f := newFixture()
	f.seed()
	ctx := context.Background()

	owner := f.addUser("owner@example.com")
	north, err := f.clinics.CreateClinic(ctx, owner, CreateClinicRequest{Name: "North"})
	require.NoError(t, err)
	_, err = f.clinics.CreateClinic(ctx, owner, CreateClinicRequest{Name: "South"})
	require.NoError(t, err)

	svc := NewAuditService(fakeAudit{f.st})
	northID := parseUUID(t, north.ID)
	logs, total, err := svc.GetAuditLogs(ctx, &northID, model.ActionCreateClinic, 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, logs, 1)
	assert.Equal(t, "North", logs[0].EntityName)
	assert.Equal(t, north.ID, logs[0].ClinicID)
	assert.Equal(t, owner.UserID.String(), logs[0].UserID)
}
