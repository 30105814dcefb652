package policystore

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryApplicable_ScansAndUnmarshalsConfig(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "workspace_id", "agent_id", "guardrail_type", "action",
		"config", "priority", "enabled",
	}).
		AddRow("p1", "t1", nil, nil, "rbac", "block", []byte(`{"denied_tools":["search"]}`), 0, true).
		AddRow("p2", "t1", "w1", "a1", "pii_ssn", "redact", []byte(`{}`), 5, true)

	mock.ExpectQuery("SELECT id, tenant_id").WithArgs("t1", "w1", "a1").WillReturnRows(rows)

	s := New(db)
	policies, err := s.QueryApplicable(context.Background(), "t1", "w1", "a1")
	require.NoError(t, err)
	require.Len(t, policies, 2)

	assert.Nil(t, policies[0].WorkspaceID)
	assert.Equal(t, []interface{}{"search"}, policies[0].Config["denied_tools"])

	require.NotNil(t, policies[1].WorkspaceID)
	assert.Equal(t, "w1", *policies[1].WorkspaceID)
	require.NotNil(t, policies[1].AgentID)
	assert.Equal(t, "a1", *policies[1].AgentID)
	assert.Equal(t, 5, policies[1].Priority)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryApplicable_QueryErrorWraps(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, tenant_id").WillReturnError(assert.AnError)

	s := New(db)
	_, err = s.QueryApplicable(context.Background(), "t1", "w1", "a1")
	assert.Error(t, err)
}

func TestQueryApplicable_BadConfigJSONErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "workspace_id", "agent_id", "guardrail_type", "action",
		"config", "priority", "enabled",
	}).AddRow("p1", "t1", nil, nil, "rbac", "block", []byte(`not-json`), 0, true)

	mock.ExpectQuery("SELECT id, tenant_id").WillReturnRows(rows)

	s := New(db)
	_, err = s.QueryApplicable(context.Background(), "t1", "w1", "a1")
	assert.Error(t, err)
}

func TestQueryApplicable_NoRowsReturnsEmptySlice(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "workspace_id", "agent_id", "guardrail_type", "action",
		"config", "priority", "enabled",
	})
	mock.ExpectQuery("SELECT id, tenant_id").WillReturnRows(rows)

	s := New(db)
	policies, err := s.QueryApplicable(context.Background(), "t1", "w1", "a1")
	require.NoError(t, err)
	assert.Empty(t, policies)
}
