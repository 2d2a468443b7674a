package store

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"cloud-cost/core/types"
)

func openTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := OpenSQLite(filepath.Join(t.TempDir(), "tracker.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// TestOpenSQLiteAppliesPragmas tests that the connection pragmas actually
// take effect, not just that the DSN is accepted
func TestOpenSQLiteAppliesPragmas(t *testing.T) {
	st := openTestDB(t)

	var mode string
	if err := st.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	var timeout int
	if err := st.db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("query busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", timeout)
	}
}

// TestSQLiteComputeGroups tests distinct named-group extraction from the
// instance snapshots
func TestSQLiteComputeGroups(t *testing.T) {
	ctx := context.Background()
	st := openTestDB(t)

	now := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)
	logs := []types.InstanceLog{
		{ProjectID: 1, InstanceID: "i-001", Name: "node1", InstanceType: "m5.large",
			Region: "eu-west-2", Status: "running", Compute: true, ComputeGroup: "gpu",
			Provider: types.ProviderAWS, Timestamp: now},
		{ProjectID: 1, InstanceID: "i-002", Name: "node2", InstanceType: "m5.large",
			Region: "eu-west-2", Status: "running", Compute: true, ComputeGroup: "gpu",
			Provider: types.ProviderAWS, Timestamp: now},
		{ProjectID: 1, InstanceID: "i-003", Name: "node3", InstanceType: "t3.micro",
			Region: "eu-west-2", Status: "stopped", Compute: true, ComputeGroup: "batch",
			Provider: types.ProviderAWS, Timestamp: now},
		{ProjectID: 1, InstanceID: "i-004", Name: "util1", InstanceType: "t3.micro",
			Region: "eu-west-2", Status: "running",
			Provider: types.ProviderAWS, Timestamp: now},
		{ProjectID: 2, InstanceID: "i-005", Name: "other1", InstanceType: "m5.large",
			Region: "eu-west-2", Status: "running", Compute: true, ComputeGroup: "render",
			Provider: types.ProviderAWS, Timestamp: now},
	}
	if err := st.SaveInstanceLogs(ctx, logs); err != nil {
		t.Fatalf("save instance logs: %v", err)
	}

	groups, err := st.ComputeGroups(ctx, 1)
	if err != nil {
		t.Fatalf("ComputeGroups: %v", err)
	}
	if want := []string{"batch", "gpu"}; !reflect.DeepEqual(groups, want) {
		t.Errorf("groups = %v, want %v", groups, want)
	}

	empty, err := st.ComputeGroups(ctx, 3)
	if err != nil {
		t.Fatalf("ComputeGroups: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("groups for unknown project = %v, want none", empty)
	}
}
