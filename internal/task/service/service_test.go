package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/workdesk/internal/auth"
	classification "github.com/louisbranch/workdesk/internal/classification/domain"
	"github.com/louisbranch/workdesk/internal/history"
	apperrors "github.com/louisbranch/workdesk/internal/platform/errors"
	"github.com/louisbranch/workdesk/internal/platform/requestctx"
	"github.com/louisbranch/workdesk/internal/session"
	"github.com/louisbranch/workdesk/internal/storage"
	"github.com/louisbranch/workdesk/internal/storage/sqlite"
	"github.com/louisbranch/workdesk/internal/task/domain"
	workbasket "github.com/louisbranch/workdesk/internal/workbasket/domain"
)

type testEnv struct {
	service *Service
	store   *sqlite.Store
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "workdesk.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	env := &testEnv{
		store: store,
		now:   time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}

	ctx := context.Background()
	q := store.DB()
	seedTime := env.now.Add(-time.Hour)

	workbaskets := []workbasket.Workbasket{
		{Key: "USER_1_1", Domain: "DOMAIN_A", Name: "PPK User 1 KSC 1"},
		{Key: "USER_1_2", Domain: "DOMAIN_B", Name: "PPK User 1 KSC 2"},
		{Key: "TEAMLEAD_1", Domain: "DOMAIN_A", Name: "PPK Teamlead KSC 1"},
		{Key: "GPK_KSC", Domain: "DOMAIN_A", Name: "Gruppenpostkorb KSC"},
	}
	for _, wb := range workbaskets {
		wb.Created, wb.Modified = seedTime, seedTime
		if err := store.InsertWorkbasket(ctx, q, wb); err != nil {
			t.Fatalf("seed workbasket %s: %v", wb.Key, err)
		}
	}

	accessItems := []workbasket.AccessItem{
		{WorkbasketKey: "USER_1_1", AccessID: "group_1", Permissions: []workbasket.Permission{
			workbasket.PermissionRead, workbasket.PermissionOpen,
			workbasket.PermissionAppend, workbasket.PermissionTransfer,
		}},
		{WorkbasketKey: "USER_1_2", AccessID: "group_1", Permissions: []workbasket.Permission{
			workbasket.PermissionRead, workbasket.PermissionAppend,
		}},
		{WorkbasketKey: "TEAMLEAD_1", AccessID: "group_1", Permissions: []workbasket.Permission{
			workbasket.PermissionRead, workbasket.PermissionAppend,
		}},
	}
	for _, item := range accessItems {
		if err := store.InsertAccessItem(ctx, q, item); err != nil {
			t.Fatalf("seed access item %s/%s: %v", item.WorkbasketKey, item.AccessID, err)
		}
	}

	classifications := []classification.Classification{
		{Key: "T2100", Domain: "DOMAIN_A", Name: "T-Vertragstermin VERA", Priority: 2},
		{Key: "T2100", Domain: "DOMAIN_B", Name: "T2100", Priority: 22},
		{Key: "L1050", Domain: "DOMAIN_A", Name: "Widerruf", Priority: 1},
	}
	for _, c := range classifications {
		c.Created, c.Modified = seedTime, seedTime
		if err := store.InsertClassification(ctx, q, c); err != nil {
			t.Fatalf("seed classification %s/%s: %v", c.Key, c.Domain, err)
		}
	}

	gate := auth.NewGate(map[auth.Role][]string{
		auth.RoleUser:  {"user_1_1", "group_1"},
		auth.RoleAdmin: {"admin_1"},
	}, store)

	env.service = NewService(Config{
		Sessions:        session.NewCoordinator(store.DB(), session.ModeAutocommit),
		Gate:            gate,
		Tasks:           store,
		Workbaskets:     store,
		Classifications: store,
		History:         history.ProducerFunc(store.AppendHistoryEvent),
		HistoryEnabled:  true,
	})
	env.service.clock = func() time.Time { return env.now }
	return env
}

func asUser(userID string, groups ...string) context.Context {
	return requestctx.WithPrincipal(context.Background(), requestctx.Principal{
		UserID:   userID,
		GroupIDs: groups,
	})
}

func user1(env *testEnv) context.Context {
	return asUser("user_1_1", "group_1")
}

func validObjRef() *domain.ObjectReference {
	return &domain.ObjectReference{
		Company: "COMPANY_A", System: "SYSTEM_A", SystemInstance: "INSTANCE_A",
		Type: "VNR", Value: "1234567",
	}
}

func createDefaultTask(t *testing.T, env *testEnv) domain.Task {
	t.Helper()
	result, err := env.service.Create(user1(env), domain.CreateTaskInput{
		WorkbasketKey:     "USER_1_1",
		ClassificationKey: "T2100",
		PrimaryObjRef:     validObjRef(),
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", result.Warnings)
	}
	return result.Task
}

func TestCreateTaskDerivesDefaultsFromClassification(t *testing.T) {
	env := newTestEnv(t)
	created := createDefaultTask(t, env)

	if created.ID == "" {
		t.Fatalf("expected generated task id")
	}
	if created.Name != "T-Vertragstermin VERA" {
		t.Fatalf("expected classification name, got %q", created.Name)
	}
	if created.Priority != 2 {
		t.Fatalf("expected classification priority 2, got %d", created.Priority)
	}
	if created.State != domain.StateReady {
		t.Fatalf("expected READY, got %s", created.State)
	}
	if created.Domain != "DOMAIN_A" || created.WorkbasketKey != "USER_1_1" {
		t.Fatalf("expected workbasket coordinates, got %+v", created)
	}
	if !created.Created.Equal(env.now) || !created.Modified.Equal(env.now) || !created.Planned.Equal(env.now) {
		t.Fatalf("expected created = modified = planned = now, got %+v", created)
	}
	if !created.Claimed.IsZero() || !created.Completed.IsZero() {
		t.Fatalf("expected zero claim timestamps")
	}
	if created.Read || created.Transferred {
		t.Fatalf("expected read and transferred unset")
	}
	if created.Version != 1 {
		t.Fatalf("expected version 1, got %d", created.Version)
	}

	events, err := env.store.HistoryEvents(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("history events: %v", err)
	}
	if len(events) != 1 || events[0].Kind != history.KindCreated || events[0].Actor != "user_1_1" {
		t.Fatalf("expected one CREATED event, got %+v", events)
	}
}

func TestCreateTaskHonorsCallerOverrides(t *testing.T) {
	env := newTestEnv(t)
	priority := 7
	planned := env.now.Add(48 * time.Hour)

	result, err := env.service.Create(user1(env), domain.CreateTaskInput{
		WorkbasketKey:     "USER_1_1",
		ClassificationKey: "T2100",
		Name:              "Zustimmungserklärung",
		Priority:          &priority,
		Planned:           planned,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if result.Task.Name != "Zustimmungserklärung" || result.Task.Priority != 7 {
		t.Fatalf("expected caller overrides, got %+v", result.Task)
	}
	if !result.Task.Planned.Equal(planned) {
		t.Fatalf("expected explicit planned time, got %v", result.Task.Planned)
	}
	if !result.Task.Created.Equal(env.now) {
		t.Fatalf("expected created = now, got %v", result.Task.Created)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := user1(env)

	_, err := env.service.Create(ctx, domain.CreateTaskInput{ClassificationKey: "T2100"})
	if !apperrors.IsCode(err, apperrors.CodeTaskMissingWorkbasket) {
		t.Fatalf("expected TASK_MISSING_WORKBASKET, got %v", err)
	}

	_, err = env.service.Create(ctx, domain.CreateTaskInput{WorkbasketKey: "USER_1_1"})
	if !apperrors.IsCode(err, apperrors.CodeTaskMissingClassification) {
		t.Fatalf("expected TASK_MISSING_CLASSIFICATION, got %v", err)
	}

	_, err = env.service.Create(ctx, domain.CreateTaskInput{
		WorkbasketKey:     "USER_1_1",
		ClassificationKey: "T2100",
		PrimaryObjRef:     &domain.ObjectReference{Company: "COMPANY_A", System: "SYSTEM_A"},
	})
	if !apperrors.IsCode(err, apperrors.CodeTaskInvalidObjectReference) {
		t.Fatalf("expected TASK_INVALID_OBJECT_REFERENCE, got %v", err)
	}
}

func TestCreateTaskInUnknownWorkbasket(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.Create(user1(env), domain.CreateTaskInput{
		WorkbasketKey:     "UNKNOWN",
		ClassificationKey: "T2100",
	})
	if !apperrors.IsCode(err, apperrors.CodeWorkbasketNotFound) {
		t.Fatalf("expected WORKBASKET_NOT_FOUND, got %v", err)
	}
}

func TestCreateTaskWithoutAppendPermission(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.Create(user1(env), domain.CreateTaskInput{
		WorkbasketKey:     "GPK_KSC",
		ClassificationKey: "T2100",
	})
	if !apperrors.IsCode(err, apperrors.CodeNotAuthorized) {
		t.Fatalf("expected NOT_AUTHORIZED, got %v", err)
	}

	// Admin bypasses the workbasket permission check.
	result, err := env.service.Create(asUser("admin_1"), domain.CreateTaskInput{
		WorkbasketKey:     "GPK_KSC",
		ClassificationKey: "T2100",
	})
	if err != nil {
		t.Fatalf("expected admin create to succeed: %v", err)
	}
	if result.Task.WorkbasketKey != "GPK_KSC" {
		t.Fatalf("unexpected task: %+v", result.Task)
	}
}

func TestClassificationResolvesInWorkbasketDomain(t *testing.T) {
	env := newTestEnv(t)

	// The same key carries different metadata per domain.
	result, err := env.service.Create(user1(env), domain.CreateTaskInput{
		WorkbasketKey:     "USER_1_2",
		ClassificationKey: "T2100",
	})
	if err != nil {
		t.Fatalf("create task in DOMAIN_B: %v", err)
	}
	if result.Task.Priority != 22 {
		t.Fatalf("expected DOMAIN_B priority 22, got %d", result.Task.Priority)
	}

	// A classification registered only in DOMAIN_A never leaks into DOMAIN_B.
	_, err = env.service.Create(user1(env), domain.CreateTaskInput{
		WorkbasketKey:     "USER_1_2",
		ClassificationKey: "L1050",
	})
	if !apperrors.IsCode(err, apperrors.CodeClassificationNotFound) {
		t.Fatalf("expected CLASSIFICATION_NOT_FOUND, got %v", err)
	}
}

func TestCreateTaskWithExplicitIDConflicts(t *testing.T) {
	env := newTestEnv(t)

	input := domain.CreateTaskInput{
		ID:                "external-0815",
		WorkbasketKey:     "USER_1_1",
		ClassificationKey: "T2100",
	}
	if _, err := env.service.Create(user1(env), input); err != nil {
		t.Fatalf("create task: %v", err)
	}

	_, err := env.service.Create(user1(env), input)
	if !apperrors.IsCode(err, apperrors.CodeTaskAlreadyExists) {
		t.Fatalf("expected TASK_ALREADY_EXISTS, got %v", err)
	}
}

func TestClaimCompleteLifecycle(t *testing.T) {
	env := newTestEnv(t)
	created := createDefaultTask(t, env)
	ctx := user1(env)

	env.now = env.now.Add(time.Minute)
	claimed, err := env.service.Claim(ctx, created.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Task.State != domain.StateClaimed || claimed.Task.Owner != "user_1_1" {
		t.Fatalf("unexpected claimed task: %+v", claimed.Task)
	}
	if !claimed.Task.Claimed.Equal(env.now) || !claimed.Task.Modified.Equal(env.now) {
		t.Fatalf("expected claimed = modified = now, got %+v", claimed.Task)
	}
	if claimed.Task.Version != 2 {
		t.Fatalf("expected version bump, got %d", claimed.Task.Version)
	}

	// Claiming again is a state conflict.
	_, err = env.service.Claim(ctx, created.ID)
	if !apperrors.IsCode(err, apperrors.CodeInvalidTaskState) {
		t.Fatalf("expected INVALID_TASK_STATE on second claim, got %v", err)
	}

	env.now = env.now.Add(time.Minute)
	completed, err := env.service.Complete(ctx, created.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Task.State != domain.StateCompleted || !completed.Task.Completed.Equal(env.now) {
		t.Fatalf("unexpected completed task: %+v", completed.Task)
	}

	// COMPLETED is terminal.
	if _, err := env.service.Claim(ctx, created.ID); !apperrors.IsCode(err, apperrors.CodeInvalidTaskState) {
		t.Fatalf("expected INVALID_TASK_STATE after completion, got %v", err)
	}
	if _, err := env.service.Transfer(ctx, created.ID, "TEAMLEAD_1"); !apperrors.IsCode(err, apperrors.CodeInvalidTaskState) {
		t.Fatalf("expected INVALID_TASK_STATE on transfer after completion, got %v", err)
	}

	events, err := env.store.HistoryEvents(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("history events: %v", err)
	}
	if len(events) != 3 ||
		events[0].Kind != history.KindCreated ||
		events[1].Kind != history.KindClaimed ||
		events[2].Kind != history.KindCompleted {
		t.Fatalf("unexpected history: %+v", events)
	}
}

func TestCompleteRequiresClaim(t *testing.T) {
	env := newTestEnv(t)
	created := createDefaultTask(t, env)

	_, err := env.service.Complete(user1(env), created.ID)
	if !apperrors.IsCode(err, apperrors.CodeInvalidTaskState) {
		t.Fatalf("expected INVALID_TASK_STATE, got %v", err)
	}
}

func TestTransferResetsClaim(t *testing.T) {
	env := newTestEnv(t)
	created := createDefaultTask(t, env)
	ctx := user1(env)

	if _, err := env.service.Claim(ctx, created.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	env.now = env.now.Add(time.Minute)
	result, err := env.service.Transfer(ctx, created.ID, "TEAMLEAD_1")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	transferred := result.Task
	if transferred.WorkbasketKey != "TEAMLEAD_1" || transferred.Domain != "DOMAIN_A" {
		t.Fatalf("expected task re-routed, got %+v", transferred)
	}
	if transferred.State != domain.StateReady || transferred.Owner != "" || !transferred.Claimed.IsZero() {
		t.Fatalf("expected claim reset, got %+v", transferred)
	}
	if !transferred.Transferred {
		t.Fatalf("expected transferred flag")
	}
	if !transferred.Modified.Equal(env.now) {
		t.Fatalf("expected modified = now, got %v", transferred.Modified)
	}
}

func TestTransferPermissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := user1(env)

	// Source without TRANSFER.
	result, err := env.service.Create(ctx, domain.CreateTaskInput{
		WorkbasketKey:     "USER_1_2",
		ClassificationKey: "T2100",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	_, err = env.service.Transfer(ctx, result.Task.ID, "TEAMLEAD_1")
	if !apperrors.IsCode(err, apperrors.CodeNotAuthorized) {
		t.Fatalf("expected NOT_AUTHORIZED without TRANSFER on source, got %v", err)
	}

	// Target without APPEND.
	created := createDefaultTask(t, env)
	_, err = env.service.Transfer(ctx, created.ID, "GPK_KSC")
	if !apperrors.IsCode(err, apperrors.CodeNotAuthorized) {
		t.Fatalf("expected NOT_AUTHORIZED without APPEND on target, got %v", err)
	}

	// Unknown target surfaces as missing workbasket.
	_, err = env.service.Transfer(ctx, created.ID, "UNKNOWN")
	if !apperrors.IsCode(err, apperrors.CodeWorkbasketNotFound) {
		t.Fatalf("expected WORKBASKET_NOT_FOUND, got %v", err)
	}

	// Whitespace around the target key is ignored.
	result, err = env.service.Transfer(ctx, created.ID, " TEAMLEAD_1 ")
	if err != nil {
		t.Fatalf("transfer with padded target key: %v", err)
	}
	if result.Task.WorkbasketKey != "TEAMLEAD_1" {
		t.Fatalf("expected task in TEAMLEAD_1, got %q", result.Task.WorkbasketKey)
	}
}

func TestGetAndSetRead(t *testing.T) {
	env := newTestEnv(t)
	created := createDefaultTask(t, env)
	ctx := user1(env)

	got, err := env.service.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != created.ID || got.Read {
		t.Fatalf("unexpected task: %+v", got)
	}

	env.now = env.now.Add(time.Minute)
	updated, err := env.service.SetRead(ctx, created.ID, true)
	if err != nil {
		t.Fatalf("set read: %v", err)
	}
	if !updated.Read || !updated.Modified.Equal(env.now) || updated.Version != 2 {
		t.Fatalf("unexpected task after set read: %+v", updated)
	}

	_, err = env.service.Get(asUser("user_2_2"), created.ID)
	if !apperrors.IsCode(err, apperrors.CodeNotAuthorized) {
		t.Fatalf("expected NOT_AUTHORIZED without READ, got %v", err)
	}

	_, err = env.service.Get(ctx, "missing")
	if !apperrors.IsCode(err, apperrors.CodeTaskNotFound) {
		t.Fatalf("expected TASK_NOT_FOUND, got %v", err)
	}
}

// staleReadTaskStore hands out a task one version behind the persisted row,
// simulating a reader that raced a concurrent writer.
type staleReadTaskStore struct {
	storage.TaskStore
}

func (s staleReadTaskStore) GetTask(ctx context.Context, q storage.Querier, id string) (domain.Task, error) {
	t, err := s.TaskStore.GetTask(ctx, q, id)
	if err != nil {
		return domain.Task{}, err
	}
	t.Version--
	return t, nil
}

func TestConcurrentModificationIsRetryable(t *testing.T) {
	env := newTestEnv(t)
	created := createDefaultTask(t, env)

	env.service.tasks = staleReadTaskStore{TaskStore: env.store}
	_, err := env.service.Claim(user1(env), created.ID)
	if !apperrors.IsCode(err, apperrors.CodeConcurrentModification) {
		t.Fatalf("expected CONCURRENT_MODIFICATION, got %v", err)
	}
	if !apperrors.GetCode(err).IsRetryable() {
		t.Fatalf("expected retryable conflict")
	}

	// The conflict rolled back: the task is still READY and claimable.
	env.service.tasks = env.store
	if _, err := env.service.Claim(user1(env), created.ID); err != nil {
		t.Fatalf("claim after conflict: %v", err)
	}
}

func TestHistorySinkFailureBecomesWarning(t *testing.T) {
	env := newTestEnv(t)
	sinkErr := errors.New("history sink unavailable")
	env.service.history = history.ProducerFunc(func(ctx context.Context, event history.Event) error {
		return sinkErr
	})

	result, err := env.service.Create(user1(env), domain.CreateTaskInput{
		WorkbasketKey:     "USER_1_1",
		ClassificationKey: "T2100",
	})
	if err != nil {
		t.Fatalf("expected create to succeed despite sink failure: %v", err)
	}
	if len(result.Warnings) != 1 || !errors.Is(result.Warnings[0], sinkErr) {
		t.Fatalf("expected sink failure as warning, got %v", result.Warnings)
	}

	// The task itself persisted.
	if _, err := env.service.Get(user1(env), result.Task.ID); err != nil {
		t.Fatalf("get after warning: %v", err)
	}
}

func TestHistoryDisabledEmitsNothing(t *testing.T) {
	env := newTestEnv(t)
	env.service.historyEnabled = false

	created := createDefaultTask(t, env)
	events, err := env.store.HistoryEvents(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("history events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %+v", events)
	}
}
