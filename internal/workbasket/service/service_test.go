package service

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/louisbranch/workdesk/internal/auth"
	apperrors "github.com/louisbranch/workdesk/internal/platform/errors"
	"github.com/louisbranch/workdesk/internal/platform/requestctx"
	"github.com/louisbranch/workdesk/internal/session"
	"github.com/louisbranch/workdesk/internal/storage"
	"github.com/louisbranch/workdesk/internal/workbasket/domain"
	_ "modernc.org/sqlite"
)

type fakeWorkbasketStore struct {
	workbaskets map[string]domain.Workbasket
	accessItems map[string][]domain.AccessItem
}

func newFakeWorkbasketStore() *fakeWorkbasketStore {
	return &fakeWorkbasketStore{
		workbaskets: map[string]domain.Workbasket{},
		accessItems: map[string][]domain.AccessItem{},
	}
}

func (f *fakeWorkbasketStore) InsertWorkbasket(ctx context.Context, q storage.Querier, wb domain.Workbasket) error {
	if _, ok := f.workbaskets[wb.Key]; ok {
		return storage.ErrDuplicate
	}
	f.workbaskets[wb.Key] = wb
	return nil
}

func (f *fakeWorkbasketStore) GetWorkbasket(ctx context.Context, q storage.Querier, key string) (domain.Workbasket, error) {
	wb, ok := f.workbaskets[key]
	if !ok {
		return domain.Workbasket{}, storage.ErrNotFound
	}
	return wb, nil
}

func (f *fakeWorkbasketStore) InsertAccessItem(ctx context.Context, q storage.Querier, item domain.AccessItem) error {
	f.accessItems[item.WorkbasketKey] = append(f.accessItems[item.WorkbasketKey], item)
	return nil
}

func (f *fakeWorkbasketStore) AccessItems(ctx context.Context, q storage.Querier, workbasketKey string) ([]domain.AccessItem, error) {
	return f.accessItems[workbasketKey], nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workbaskets.db")
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := newFakeWorkbasketStore()
	gate := auth.NewGate(map[auth.Role][]string{
		auth.RoleUser:          {"user_1_1", "group_1"},
		auth.RoleBusinessAdmin: {"businessadmin"},
		auth.RoleAdmin:         {"admin_1"},
	}, store)
	return NewService(session.NewCoordinator(sqlDB, session.ModeAutocommit), gate, store, []string{"DOMAIN_A", "DOMAIN_B"})
}

func asUser(userID string, groups ...string) context.Context {
	return requestctx.WithPrincipal(context.Background(), requestctx.Principal{
		UserID:   userID,
		GroupIDs: groups,
	})
}

func seedWorkbasket(t *testing.T, svc *Service, input domain.CreateWorkbasketInput) domain.Workbasket {
	t.Helper()
	wb, err := svc.Create(asUser("businessadmin"), input)
	if err != nil {
		t.Fatalf("create workbasket %s: %v", input.Key, err)
	}
	return wb
}

func TestCreateRequiresBusinessAdmin(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Create(asUser("user_1_1"), domain.CreateWorkbasketInput{Key: "USER_1_1", Domain: "DOMAIN_A"})
	if !apperrors.IsCode(err, apperrors.CodeNotAuthorized) {
		t.Fatalf("expected NOT_AUTHORIZED for plain user, got %v", err)
	}

	if _, err := svc.Create(asUser("admin_1"), domain.CreateWorkbasketInput{Key: "ADM_1", Domain: "DOMAIN_A"}); err != nil {
		t.Fatalf("expected admin to create workbaskets: %v", err)
	}
}

func TestCreateValidatesDomain(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Create(asUser("businessadmin"), domain.CreateWorkbasketInput{Key: "USER_1_1", Domain: "DOMAIN_Z"})
	if !apperrors.IsCode(err, apperrors.CodeDomainUnknown) {
		t.Fatalf("expected DOMAIN_UNKNOWN, got %v", err)
	}
}

func TestCreateRejectsDuplicateKey(t *testing.T) {
	svc := newTestService(t)
	seedWorkbasket(t, svc, domain.CreateWorkbasketInput{Key: "USER_1_1", Domain: "DOMAIN_A"})

	_, err := svc.Create(asUser("businessadmin"), domain.CreateWorkbasketInput{Key: "USER_1_1", Domain: "DOMAIN_A"})
	if !apperrors.IsCode(err, apperrors.CodeWorkbasketInvalid) {
		t.Fatalf("expected duplicate key to fail, got %v", err)
	}
}

func TestGetChecksReadPermission(t *testing.T) {
	svc := newTestService(t)
	seedWorkbasket(t, svc, domain.CreateWorkbasketInput{Key: "USER_1_1", Domain: "DOMAIN_A", Name: "PPK User 1 KSC 1"})
	if err := svc.CreateAccessItem(asUser("businessadmin"), domain.AccessItem{
		WorkbasketKey: "USER_1_1",
		AccessID:      "group_1",
		Permissions:   []domain.Permission{domain.PermissionRead, domain.PermissionAppend},
	}); err != nil {
		t.Fatalf("create access item: %v", err)
	}

	wb, err := svc.Get(asUser("user_1_1", "group_1"), "USER_1_1")
	if err != nil {
		t.Fatalf("get workbasket: %v", err)
	}
	if wb.Name != "PPK User 1 KSC 1" {
		t.Fatalf("unexpected workbasket: %+v", wb)
	}

	_, err = svc.Get(asUser("user_2_2"), "USER_1_1")
	if !apperrors.IsCode(err, apperrors.CodeNotAuthorized) {
		t.Fatalf("expected NOT_AUTHORIZED without READ, got %v", err)
	}

	_, err = svc.Get(asUser("user_1_1", "group_1"), "UNKNOWN")
	if !apperrors.IsCode(err, apperrors.CodeWorkbasketNotFound) {
		t.Fatalf("expected WORKBASKET_NOT_FOUND, got %v", err)
	}
}

func TestAccessItemsRequiresBusinessAdmin(t *testing.T) {
	svc := newTestService(t)
	seedWorkbasket(t, svc, domain.CreateWorkbasketInput{Key: "GPK_KSC", Domain: "DOMAIN_A"})
	if err := svc.CreateAccessItem(asUser("businessadmin"), domain.AccessItem{
		WorkbasketKey: "GPK_KSC",
		AccessID:      "teamlead_1",
		Permissions:   []domain.Permission{domain.PermissionOpen},
	}); err != nil {
		t.Fatalf("create access item: %v", err)
	}

	items, err := svc.AccessItems(asUser("businessadmin"), "GPK_KSC")
	if err != nil {
		t.Fatalf("list access items: %v", err)
	}
	if len(items) != 1 || items[0].AccessID != "teamlead_1" {
		t.Fatalf("unexpected access items: %+v", items)
	}

	_, err = svc.AccessItems(asUser("user_1_1"), "GPK_KSC")
	if !apperrors.IsCode(err, apperrors.CodeNotAuthorized) {
		t.Fatalf("expected NOT_AUTHORIZED for plain user, got %v", err)
	}

	_, err = svc.AccessItems(asUser("businessadmin"), "UNKNOWN")
	if !apperrors.IsCode(err, apperrors.CodeWorkbasketNotFound) {
		t.Fatalf("expected WORKBASKET_NOT_FOUND, got %v", err)
	}
}

func TestCreateAccessItemValidates(t *testing.T) {
	svc := newTestService(t)
	seedWorkbasket(t, svc, domain.CreateWorkbasketInput{Key: "USER_1_1", Domain: "DOMAIN_A"})

	err := svc.CreateAccessItem(asUser("businessadmin"), domain.AccessItem{WorkbasketKey: "USER_1_1"})
	if !apperrors.IsCode(err, apperrors.CodeWorkbasketInvalid) {
		t.Fatalf("expected WORKBASKET_INVALID for missing access id, got %v", err)
	}

	err = svc.CreateAccessItem(asUser("businessadmin"), domain.AccessItem{WorkbasketKey: "MISSING", AccessID: "group_1"})
	if !apperrors.IsCode(err, apperrors.CodeWorkbasketNotFound) {
		t.Fatalf("expected WORKBASKET_NOT_FOUND, got %v", err)
	}
}
