package billing

import (
	"context"
	"errors"
	"sync"

	domainBilling "github.com/saasops/backend/internal/domain/billing"
)

var (
	errTransactionCanceled = errors.New("transaction canceled")
	errEntryNotFound       = errors.New("entry not found")
)

// In-memory store fakes mimicking the backend's conditional and
// transactional write semantics.

type fakeEventStore struct {
	mu      sync.Mutex
	events  map[string]map[string]*domainBilling.UsageEvent // tenant -> sort key -> event
	listErr error
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{events: make(map[string]map[string]*domainBilling.UsageEvent)}
}

func (f *fakeEventStore) PutEvent(_ context.Context, event *domainBilling.UsageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.events[event.TenantID] == nil {
		f.events[event.TenantID] = make(map[string]*domainBilling.UsageEvent)
	}
	f.events[event.TenantID][event.SortKey()] = event
	return nil
}

func (f *fakeEventStore) ListEvents(_ context.Context, tenantID string) ([]*domainBilling.UsageEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*domainBilling.UsageEvent
	for _, event := range f.events[tenantID] {
		out = append(out, event)
	}
	return out, nil
}

func (f *fakeEventStore) count(tenantID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events[tenantID])
}

type commitCall struct {
	tenantID string
	entryKey string
	sums     map[domainBilling.ProductCode]int64
	events   int
}

type fakeAggregateStore struct {
	mu          sync.Mutex
	entries     map[string]map[string]*domainBilling.AggregateEntry // tenant -> sort key -> entry
	eventStore  *fakeEventStore
	commits     []commitCall
	createCalls int

	createErr     error
	markErr       error
	listErr       error
	failCommit    func(call int) bool // 0-based index over all commits
	submittedMark []string            // entry keys marked submitted, in order
}

func newFakeAggregateStore(events *fakeEventStore) *fakeAggregateStore {
	return &fakeAggregateStore{
		entries:    make(map[string]map[string]*domainBilling.AggregateEntry),
		eventStore: events,
	}
}

func (f *fakeAggregateStore) CreateEntryIfAbsent(_ context.Context, entry *domainBilling.AggregateEntry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return false, f.createErr
	}
	if f.entries[entry.TenantID] == nil {
		f.entries[entry.TenantID] = make(map[string]*domainBilling.AggregateEntry)
	}
	key := entry.SortKey()
	if _, exists := f.entries[entry.TenantID][key]; exists {
		return false, nil
	}
	stored := *entry
	stored.Quantities = make(map[domainBilling.ProductCode]int64)
	f.entries[entry.TenantID][key] = &stored
	return true, nil
}

func (f *fakeAggregateStore) CommitChunk(
	_ context.Context,
	tenantID, entryKey string,
	sums map[domainBilling.ProductCode]int64,
	events []*domainBilling.UsageEvent,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := len(f.commits)
	f.commits = append(f.commits, commitCall{tenantID, entryKey, sums, len(events)})

	if f.failCommit != nil && f.failCommit(call) {
		return errTransactionCanceled
	}

	entry := f.entries[tenantID][entryKey]
	if entry == nil {
		return errTransactionCanceled
	}
	// All-or-nothing: increment the counter and delete the chunk's events.
	for code, quantity := range sums {
		entry.Quantities[code] += quantity
	}
	f.eventStore.mu.Lock()
	for _, event := range events {
		delete(f.eventStore.events[tenantID], event.SortKey())
	}
	f.eventStore.mu.Unlock()
	return nil
}

func (f *fakeAggregateStore) ListUnsubmitted(_ context.Context, tenantID string) ([]*domainBilling.AggregateEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*domainBilling.AggregateEntry
	for _, entry := range f.entries[tenantID] {
		if !entry.Submitted {
			copied := *entry
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeAggregateStore) MarkSubmitted(_ context.Context, tenantID, entryKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	entry := f.entries[tenantID][entryKey]
	if entry == nil {
		return errEntryNotFound
	}
	entry.Submitted = true
	f.submittedMark = append(f.submittedMark, entryKey)
	return nil
}

func (f *fakeAggregateStore) entry(tenantID, entryKey string) *domainBilling.AggregateEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[tenantID][entryKey]
}

func (f *fakeAggregateStore) seed(entry *domainBilling.AggregateEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entries[entry.TenantID] == nil {
		f.entries[entry.TenantID] = make(map[string]*domainBilling.AggregateEntry)
	}
	f.entries[entry.TenantID][entry.SortKey()] = entry
}

type fakeTenantDirectory struct {
	tenants []domainBilling.TenantConfig
	err     error
}

func (f *fakeTenantDirectory) ListTenants(context.Context) ([]domainBilling.TenantConfig, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tenants, nil
}

type publishCall struct {
	apiKey string
	req    domainBilling.PublishRequest
}

type fakeUsagePublisher struct {
	mu      sync.Mutex
	calls   []publishCall
	respond func(req domainBilling.PublishRequest) (*domainBilling.PublishResult, error)
}

func (f *fakeUsagePublisher) Publish(_ context.Context, apiKey string, req domainBilling.PublishRequest) (*domainBilling.PublishResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, publishCall{apiKey, req})
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(req)
	}
	return &domainBilling.PublishResult{RecordID: "mbur_fake"}, nil
}

func (f *fakeUsagePublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeKeySource struct {
	key   string
	err   error
	calls int
}

func (f *fakeKeySource) APIKey(context.Context) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.key, nil
}
