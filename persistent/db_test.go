package persistent

import (
	"context"
	"testing"

	"github.com/sesja-auth/sesja/pgdb"
	"github.com/uptrace/bun"
)

func PgOpenTest(ctx context.Context) *bun.DB {
	return pgdb.OpenTest(ctx)
}

// User rows belong to the surrounding identity system; tests insert
// them only to satisfy the sessions foreign key.
type User struct {
	bun.BaseModel `bun:"table:users"`

	Id   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name,notnull"`
}

func createTestUser(ctx context.Context, t *testing.T, db *bun.DB, name string) int64 {
	t.Helper()
	user := &User{Name: name}
	if _, err := db.NewInsert().Model(user).Exec(ctx); err != nil {
		t.Fatalf("insert test user: %s", err)
	}
	return user.Id
}
