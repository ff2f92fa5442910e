package warehouse

import (
	"testing"

	"github.com/ajitpratap0/rsloader/pkg/schema"
	"github.com/stretchr/testify/assert"
)

func TestInsertLatestSQL(t *testing.T) {
	cols := []schema.Column{{Name: "id", Type: schema.TypeInteger}, {Name: DeletedAtColumn, Type: schema.TypeString}}

	got := insertLatestSQL(ordersRef, "stg_orders_1_1", cols, []string{"id"}, true, false)
	assert.Equal(t,
		`INSERT INTO "public"."orders" ("id", "_sdc_deleted_at") SELECT "id", "_sdc_deleted_at" FROM `+
			`(SELECT "id", "_sdc_deleted_at", ROW_NUMBER() OVER (PARTITION BY "id" ORDER BY "__rs_seq" DESC) AS "__rs_rank" FROM "stg_orders_1_1") AS "latest" `+
			`WHERE "__rs_rank" = 1 AND "_sdc_deleted_at" IS NULL`,
		got)

	onlyNew := insertLatestSQL(ordersRef, "stg", cols[:1], []string{"id"}, false, true)
	assert.Contains(t, onlyNew, `AND NOT EXISTS (SELECT 1 FROM "public"."orders" WHERE "orders"."id" = "latest"."id")`)
}

func TestDeleteMatchingSQL(t *testing.T) {
	got := deleteMatchingSQL(ordersRef, "stg", []string{"id", "region"})
	assert.Equal(t,
		`DELETE FROM "public"."orders" WHERE EXISTS (SELECT 1 FROM "stg" WHERE "stg"."id" = "orders"."id" AND "stg"."region" = "orders"."region")`,
		got)
}

func TestCreateTableSQL(t *testing.T) {
	cols := []schema.Column{{Name: "id", Type: schema.TypeInteger}, {Name: "note", Type: schema.TypeString, Length: 256}}
	assert.Equal(t, `CREATE TEMP TABLE "stg" ("__rs_seq" bigint, "id" bigint, "note" character varying(256))`,
		createTableSQL(`"stg"`, stagingColumns(cols), nil, true))
}

func TestGrantees(t *testing.T) {
	assert.True(t, Grantees{}.Empty())
	assert.Empty(t, grantSelectSQL(ordersRef, Grantees{}))
}
