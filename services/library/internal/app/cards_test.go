package app

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"zettler/pkg/domain"
)

func TestIssueCardSequence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.seedUser(t, "admin", domain.RoleAdmin)
	env.seedUser(t, "u1", domain.RoleMember)
	env.seedUser(t, "u2", domain.RoleMember)

	first, err := env.app.IssueCard(ctx, admin, "u1", "comm")
	if err != nil {
		t.Fatalf("issue first: %v", err)
	}
	second, err := env.app.IssueCard(ctx, admin, "u2", "COMM")
	if err != nil {
		t.Fatalf("issue second: %v", err)
	}
	if first != "ZL-25-COMM-0001" || second != "ZL-25-COMM-0002" {
		t.Fatalf("unexpected cards %s, %s", first, second)
	}
	u1, _, _ := env.store.GetUser(ctx, "u1")
	if u1.Status != domain.UserApproved || u1.Branch != "COMM" || u1.ApprovedBy != "admin" || u1.ApprovedAt == nil {
		t.Fatalf("card holder not approved: %+v", u1)
	}
	notes, _ := env.store.ListNotifications(ctx, "u1", 10)
	if len(notes) != 1 {
		t.Fatalf("expected one notification, got %d", len(notes))
	}

	_, err = env.app.IssueCard(ctx, admin, "u1", "COMM")
	wantKind(t, err, KindConflict)

	// a conflict must not burn a number
	env.seedUser(t, "u3", domain.RoleMember)
	third, err := env.app.IssueCard(ctx, admin, "u3", "COMM")
	if err != nil || third != "ZL-25-COMM-0003" {
		t.Fatalf("third card = %s, %v", third, err)
	}
}

func TestIssueCardValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.seedUser(t, "admin", domain.RoleAdmin)
	member := env.seedUser(t, "m", domain.RoleMember)

	cases := []struct {
		name   string
		caller *Identity
		target string
		branch string
		kind   Kind
	}{
		{"guest", nil, "m", "COMM", KindUnauthenticated},
		{"member", member, "m", "COMM", KindForbidden},
		{"missing target", admin, "", "COMM", KindValidation},
		{"missing branch", admin, "m", "", KindValidation},
		{"bad branch", admin, "m", "north-east", KindValidation},
		{"unknown target", admin, "ghost", "COMM", KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.app.IssueCard(ctx, tc.caller, tc.target, tc.branch)
			wantKind(t, err, tc.kind)
		})
	}
}

func TestIssueCardConcurrentUnique(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.seedUser(t, "admin", domain.RoleAdmin)
	const n = 25
	for i := 0; i < n; i++ {
		env.seedUser(t, fmt.Sprintf("u%02d", i), domain.RoleMember)
	}
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		cards = map[string]bool{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			card, err := env.app.IssueCard(ctx, admin, fmt.Sprintf("u%02d", i), "NORTH")
			if err != nil {
				t.Errorf("issue %d: %v", i, err)
				return
			}
			mu.Lock()
			cards[card] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	if len(cards) != n {
		t.Fatalf("expected %d distinct cards, got %d", n, len(cards))
	}
	for i := 1; i <= n; i++ {
		want := domain.CardNumber("25", "NORTH", int64(i))
		if !cards[want] {
			t.Fatalf("missing %s: sequence has a gap", want)
		}
	}
}

func TestMigrateCards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	super := env.seedUser(t, "root", domain.RoleSuper)
	env.seedUser(t, "u1", domain.RoleMember)
	env.seedUser(t, "u2", domain.RoleMember)
	if _, err := env.store.UpdateUser(ctx, "u2", func(u *domain.User) error {
		u.Branch = "east"
		return nil
	}); err != nil {
		t.Fatalf("set branch: %v", err)
	}

	_, err := env.app.MigrateCards(ctx, env.seedUser(t, "adm", domain.RoleAdmin))
	wantKind(t, err, KindForbidden)

	res, err := env.app.MigrateCards(ctx, super)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// root, u1, u2 and adm had no card
	if res.Updated != 4 || len(res.Details) != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
	u2, _, _ := env.store.GetUser(ctx, "u2")
	if u2.LibraryCardNumber != "ZL-25-EAST-0001" {
		t.Fatalf("u2 card = %s", u2.LibraryCardNumber)
	}
	u1, _, _ := env.store.GetUser(ctx, "u1")
	if u1.Branch != domain.BranchCommunity || !u1.HasApprovedCard() {
		t.Fatalf("u1 not backfilled on community branch: %+v", u1)
	}

	again, err := env.app.MigrateCards(ctx, super)
	if err != nil || again.Updated != 0 {
		t.Fatalf("second migration = %+v, %v", again, err)
	}
}
