package notion

import (
	"context"
	"fmt"
	"strings"
)

// Database binds a Client to one database id so callers deal only in thread
// keys and records.
type Database struct {
	client     *Client
	databaseID string
}

func NewDatabase(client *Client, databaseID string) (*Database, error) {
	if client == nil {
		return nil, fmt.Errorf("notion client is required")
	}
	databaseID = strings.TrimSpace(databaseID)
	if databaseID == "" {
		return nil, fmt.Errorf("notion database_id is required")
	}
	return &Database{client: client, databaseID: databaseID}, nil
}

func (d *Database) ThreadExists(ctx context.Context, threadKey string) (bool, error) {
	if d == nil || d.client == nil {
		return false, fmt.Errorf("notion database is not initialized")
	}
	return d.client.ThreadExists(ctx, d.databaseID, threadKey)
}

func (d *Database) CreateRecord(ctx context.Context, rec Record) (string, error) {
	if d == nil || d.client == nil {
		return "", fmt.Errorf("notion database is not initialized")
	}
	return d.client.CreateRecord(ctx, d.databaseID, rec)
}
