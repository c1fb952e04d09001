//go:build integration

package repositories

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/datasaki/datasaki-engine/pkg/models"
	"github.com/datasaki/datasaki-engine/pkg/testhelpers"
)

// repoTestContext holds the shared engine database and a scoped context for one test.
type repoTestContext struct {
	t        *testing.T
	engineDB *testhelpers.EngineDB
	ctx      context.Context
}

// setupRepoTest truncates the metadata tables and returns a scoped context.
func setupRepoTest(t *testing.T) *repoTestContext {
	engineDB := testhelpers.GetEngineDB(t)
	engineDB.Truncate(t, "request_logs", "activity_logs", "llm_configs", "transformations", "datasets", "connectors", "users", "companies")

	ctx, cleanup := engineDB.Scope(t)
	t.Cleanup(cleanup)

	return &repoTestContext{t: t, engineDB: engineDB, ctx: ctx}
}

// createUser adds a user with the given email.
func (tc *repoTestContext) createUser(email string) *models.User {
	tc.t.Helper()
	user := &models.User{Email: email, Name: email, IsActive: true}
	if err := NewUserRepository().Create(tc.ctx, user); err != nil {
		tc.t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// createConnector adds a csv source connector owned by userID.
func (tc *repoTestContext) createConnector(userID uuid.UUID, name string) *models.Connector {
	tc.t.Helper()
	c := &models.Connector{
		UserID:        userID,
		Name:          name,
		Type:          "csv",
		ConnectorType: models.ConnectorSource,
		FilePath:      "/data/" + name + ".csv",
	}
	if err := NewConnectorRepository().Create(tc.ctx, c, ConnectorSecrets{}); err != nil {
		tc.t.Fatalf("failed to create test connector: %v", err)
	}
	return c
}

// createDataset adds a file dataset over connectorID.
func (tc *repoTestContext) createDataset(userID, connectorID uuid.UUID, name string) *models.Dataset {
	tc.t.Helper()
	d := &models.Dataset{
		UserID:      userID,
		ConnectorID: connectorID,
		Name:        name,
		SourceType:  models.SourceTypeFile,
		SourcePath:  name + ".csv",
	}
	if err := NewDatasetRepository().Create(tc.ctx, d); err != nil {
		tc.t.Fatalf("failed to create test dataset: %v", err)
	}
	return d
}

func (tc *repoTestContext) countRows(query string, args ...any) int64 {
	tc.t.Helper()
	var n int64
	if err := tc.engineDB.DB.QueryRow(context.Background(), query, args...).Scan(&n); err != nil {
		tc.t.Fatalf("count query failed: %v", err)
	}
	return n
}
