package runner

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"cloud-cost/core/normalize"
	"cloud-cost/core/provider"
	"cloud-cost/core/store"
	"cloud-cost/core/types"
	"cloud-cost/internal/errors"
)

// fakeAWS serves a canned inventory and fails for one access key
type fakeAWS struct {
	brokenKey string
	describes int
}

func (f *fakeAWS) GetCostAndUsage(ctx context.Context, creds *types.AWSConfig, query *provider.CostQuery) ([]provider.CostResult, error) {
	return []provider.CostResult{{
		Start: query.Start,
		Total: map[string]provider.MetricValue{
			"UnblendedCost": {Amount: "5", Unit: "USD"},
			"UsageQuantity": {Amount: "1.2", Unit: "GB"},
		},
	}}, nil
}

func (f *fakeAWS) DescribeInstances(ctx context.Context, creds *types.AWSConfig, region string, filters []provider.InstanceFilter) ([]provider.Instance, error) {
	f.describes++
	if creds.AccessKeyID == f.brokenKey {
		return nil, &provider.APICallError{StatusCode: 403, Message: "access denied"}
	}
	return []provider.Instance{
		{
			InstanceID:   "i-001",
			InstanceType: "m5.large",
			State:        "running",
			Tags:         map[string]string{"Name": "node1", "compute": "true", "compute_group": "gpu"},
		},
	}, nil
}

func (f *fakeAWS) GetProducts(ctx context.Context, creds *types.AWSConfig, query *provider.ProductsQuery) ([]provider.Product, error) {
	return nil, nil
}

type fakeAzure struct{}

func (fakeAzure) UsageDetails(ctx context.Context, cfg *types.AzureConfig, filter string) ([]provider.UsageDetail, error) {
	return nil, nil
}
func (fakeAzure) VirtualMachines(ctx context.Context, cfg *types.AzureConfig) ([]provider.VirtualMachine, error) {
	return nil, nil
}
func (fakeAzure) AvailabilityStatuses(ctx context.Context, cfg *types.AzureConfig, filter string) ([]provider.AvailabilityStatus, error) {
	return nil, nil
}
func (fakeAzure) RateCard(ctx context.Context, cfg *types.AzureConfig, filter string) ([]provider.Meter, error) {
	return nil, nil
}

type recordedMessage struct {
	channel string
	text    string
}

type recordingNotifier struct {
	messages []recordedMessage
}

func (n *recordingNotifier) Notify(ctx context.Context, channel, text string) error {
	n.messages = append(n.messages, recordedMessage{channel: channel, text: text})
	return nil
}

type storeResolver struct {
	store store.Store
}

func (r storeResolver) ComputeNames(ctx context.Context, projectID int64, month types.Date) ([]string, error) {
	return r.store.ComputeNamesInMonth(ctx, projectID, month)
}

func awsProject(name, accessKey string) *types.Project {
	return &types.Project{
		Name:         name,
		Provider:     types.ProviderAWS,
		StartDate:    types.NewDate(2026, 1, 1),
		SlackChannel: "#" + name,
		FilterLevel:  types.FilterAccount,
		AWS: &types.AWSConfig{
			AccessKeyID: accessKey,
			SecretKey:   "secret",
			Regions:     []string{"eu-west-2"},
		},
	}
}

func testRunner(t *testing.T, st store.Store, aws provider.AWSAPI) *Runner {
	t.Helper()
	factory := provider.NewFactory(aws, fakeAzure{}, storeResolver{store: st},
		provider.RegionNames{"eu-west-2": "EU (London)"},
		provider.RegionNames{})
	converter := normalize.NewConverter(normalize.Params{
		CanonicalCurrency: "GBP",
		ExchangeRates:     map[string]decimal.Decimal{"USD": decimal.NewFromFloat(0.77)},
		FlatMultiplier:    decimal.NewFromInt(10),
		RiskMultiplier:    decimal.NewFromFloat(1.25),
		CreditDivisor:     decimal.NewFromInt(2300),
	})
	return New(st, factory, converter, &recordingNotifier{}, Config{
		FixedMonthlyOverhead: 5000,
		DefaultDateLag:       2,
	})
}

// TestRecordInstancesBatchIsolation tests that one project's failure
// never aborts the rest of the batch
func TestRecordInstancesBatchIsolation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	for _, p := range []*types.Project{
		awsProject("alpha", "AKIAALPHA"),
		awsProject("beta", "AKIABROKEN"),
		awsProject("gamma", "AKIAGAMMA"),
	} {
		if err := st.SaveProject(ctx, p); err != nil {
			t.Fatalf("save project: %v", err)
		}
	}

	aws := &fakeAWS{brokenKey: "AKIABROKEN"}
	r := testRunner(t, st, aws)

	err := r.RecordInstances(ctx, SelectorAll, false)
	if err == nil {
		t.Fatal("expected aggregate failure")
	}
	domainErr, ok := err.(*errors.Error)
	if !ok {
		t.Fatalf("error type = %T, want *errors.Error", err)
	}
	if !strings.Contains(domainErr.Message, "1 of 3 projects failed") {
		t.Errorf("message = %q", domainErr.Message)
	}
	if len(domainErr.Diagnostics) != 1 {
		t.Fatalf("diagnostics = %d, want 1", len(domainErr.Diagnostics))
	}
	if !strings.Contains(domainErr.Diagnostics[0], "beta") {
		t.Errorf("diagnostic %q does not name the failed project", domainErr.Diagnostics[0])
	}

	// the two healthy projects still got their snapshots
	today := types.Today()
	for _, name := range []string{"alpha", "gamma"} {
		project, err := st.ProjectByName(ctx, name)
		if err != nil {
			t.Fatalf("lookup %s: %v", name, err)
		}
		logs, err := st.InstanceLogsOn(ctx, project.ID, today)
		if err != nil {
			t.Fatalf("snapshot for %s: %v", name, err)
		}
		if len(logs) != 1 {
			t.Errorf("%s snapshot rows = %d, want 1", name, len(logs))
		}
	}
}

// TestForEachProjectNamedSelector tests named selection semantics
func TestForEachProjectNamedSelector(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	if err := st.SaveProject(ctx, awsProject("alpha", "AKIAALPHA")); err != nil {
		t.Fatalf("save project: %v", err)
	}
	r := testRunner(t, st, &fakeAWS{})

	t.Run("unknown project is not found", func(t *testing.T) {
		err := r.RecordInstances(ctx, "nonesuch", false)
		if !errors.IsType(err, errors.TypeNotFound) {
			t.Errorf("error = %v, want not found", err)
		}
	})

	t.Run("named failure propagates without aggregation", func(t *testing.T) {
		broken := testRunner(t, st, &fakeAWS{brokenKey: "AKIAALPHA"})
		err := broken.RecordInstances(ctx, "alpha", true)
		if !errors.IsType(err, errors.TypeProviderAPI) {
			t.Errorf("error = %v, want provider error", err)
		}
	})
}

// TestRecordRangeValidation tests the backfill range guards
func TestRecordRangeValidation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	if err := st.SaveProject(ctx, awsProject("alpha", "AKIAALPHA")); err != nil {
		t.Fatalf("save project: %v", err)
	}
	r := testRunner(t, st, &fakeAWS{})

	start := types.NewDate(2026, 8, 10)

	t.Run("end before start", func(t *testing.T) {
		err := r.RecordRange(ctx, "alpha", start, start.AddDays(-1), false)
		if !errors.IsType(err, errors.TypeValidation) {
			t.Errorf("error = %v, want validation error", err)
		}
	})

	t.Run("end beyond settled billing data", func(t *testing.T) {
		tomorrow := types.Today().AddDays(1)
		err := r.RecordRange(ctx, "alpha", start, tomorrow, false)
		if !errors.IsType(err, errors.TypeValidation) {
			t.Errorf("error = %v, want validation error", err)
		}
	})
}

// TestRecordDayComputeGroups tests that named compute groups recorded in
// the instance snapshots get their own cost logs alongside the fixed scopes
func TestRecordDayComputeGroups(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	if err := st.SaveProject(ctx, awsProject("alpha", "AKIAALPHA")); err != nil {
		t.Fatalf("save project: %v", err)
	}
	r := testRunner(t, st, &fakeAWS{})

	if err := r.RecordInstances(ctx, "alpha", false); err != nil {
		t.Fatalf("record instances: %v", err)
	}

	project, err := st.ProjectByName(ctx, "alpha")
	if err != nil {
		t.Fatalf("lookup project: %v", err)
	}
	groups, err := st.ComputeGroups(ctx, project.ID)
	if err != nil {
		t.Fatalf("compute groups: %v", err)
	}
	if len(groups) != 1 || groups[0] != "gpu" {
		t.Fatalf("groups = %v, want [gpu]", groups)
	}

	day := types.Today().AddDays(-3)
	if err := r.RecordRange(ctx, "alpha", day, day, false); err != nil {
		t.Fatalf("record range: %v", err)
	}

	for _, scope := range []types.Scope{
		types.ScopeCompute, types.ScopeTotal, types.Scope("gpu"),
	} {
		log, err := st.CostLog(ctx, project.ID, day, scope)
		if err != nil {
			t.Fatalf("cost log for %s: %v", scope, err)
		}
		if log == nil {
			t.Fatalf("no cost log recorded for scope %s", scope)
		}
		if !log.Cost.Equal(decimal.NewFromInt(5)) {
			t.Errorf("scope %s cost = %s, want 5", scope, log.Cost)
		}
	}
}

// TestTotalScopeNotReconciled tests that the recorded total is the figure
// the unfiltered provider query reported, even when the other scopes sum
// to something else
func TestTotalScopeNotReconciled(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	if err := st.SaveProject(ctx, awsProject("alpha", "AKIAALPHA")); err != nil {
		t.Fatalf("save project: %v", err)
	}
	r := testRunner(t, st, &fakeAWS{})

	day := types.Today().AddDays(-3)
	if err := r.RecordRange(ctx, "alpha", day, day, false); err != nil {
		t.Fatalf("record range: %v", err)
	}

	project, err := st.ProjectByName(ctx, "alpha")
	if err != nil {
		t.Fatalf("lookup project: %v", err)
	}

	sum := decimal.Zero
	for _, scope := range []types.Scope{
		types.ScopeCompute, types.ScopeCore, types.ScopeStorage, types.ScopeDataOut,
	} {
		log, err := st.CostLog(ctx, project.ID, day, scope)
		if err != nil {
			t.Fatalf("cost log for %s: %v", scope, err)
		}
		sum = sum.Add(log.Cost)
	}
	total, err := st.CostLog(ctx, project.ID, day, types.ScopeTotal)
	if err != nil {
		t.Fatalf("total cost log: %v", err)
	}
	if total.Cost.Equal(sum) {
		t.Fatalf("fixture does not disagree: total %s == scope sum %s", total.Cost, sum)
	}
	if !total.Cost.Equal(decimal.NewFromInt(5)) {
		t.Errorf("total = %s, want the provider-reported 5", total.Cost)
	}
}

// TestValidateReportDate tests report date guards
func TestValidateReportDate(t *testing.T) {
	project := awsProject("alpha", "AKIAALPHA")

	tests := []struct {
		name  string
		date  types.Date
		valid bool
	}{
		{name: "before project start", date: types.NewDate(2025, 12, 31), valid: false},
		{name: "future date", date: types.Today().AddDays(1), valid: false},
		{name: "project start date", date: project.StartDate, valid: true},
		{name: "today", date: types.Today(), valid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateReportDate(project, tt.date)
			if tt.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.valid && !errors.IsType(err, errors.TypeValidation) {
				t.Errorf("error = %v, want validation error", err)
			}
		})
	}
}

// TestDefaultDate tests the billing-lag offset
func TestDefaultDate(t *testing.T) {
	r := testRunner(t, store.NewMemoryStore(), &fakeAWS{})
	want := types.Today().AddDays(-2)
	if got := r.DefaultDate(); !got.Equal(want) {
		t.Errorf("DefaultDate = %s, want %s", got, want)
	}
}
