package warehouse

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/rsloader/internal/stage"
	"github.com/ajitpratap0/rsloader/pkg/schema"
)

// DeletedAtColumn flags soft-deleted source rows.
const DeletedAtColumn = "_sdc_deleted_at"

const rankColumn = "__rs_rank"

var q = schema.QuoteIdent

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = q(n)
	}
	return strings.Join(quoted, ", ")
}

func columnNames(cols []schema.Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

func createSchemaSQL(name string) string {
	return "CREATE SCHEMA IF NOT EXISTS " + q(name)
}

func createTableSQL(table string, cols []schema.Column, primaryKey []string, temporary bool) string {
	var b strings.Builder
	b.WriteString("CREATE ")
	if temporary {
		b.WriteString("TEMP ")
	}
	b.WriteString("TABLE ")
	if !temporary {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(q(c.Name))
		b.WriteByte(' ')
		b.WriteString(c.SQLType())
	}
	if len(primaryKey) > 0 {
		b.WriteString(", PRIMARY KEY (")
		b.WriteString(quoteAll(primaryKey))
		b.WriteString(")")
	}
	b.WriteString(")")
	return b.String()
}

func addColumnSQL(table schema.TableRef, c schema.Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table.Quoted(), q(c.Name), c.SQLType())
}

func alterVarcharSQL(table schema.TableRef, c schema.Column) string {
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s", table.Quoted(), q(c.Name), c.SQLType())
}

func renameColumnSQL(table schema.TableRef, from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", table.Quoted(), q(from), q(to))
}

func grantUsageSQL(schemaName string, g Grantees) []string {
	return grantSQL("USAGE ON SCHEMA "+q(schemaName), g)
}

func grantSelectSQL(table schema.TableRef, g Grantees) []string {
	return grantSQL("SELECT ON "+table.Quoted(), g)
}

func grantSQL(what string, g Grantees) []string {
	var out []string
	for _, u := range g.Users {
		out = append(out, fmt.Sprintf("GRANT %s TO %s", what, q(u)))
	}
	for _, grp := range g.Groups {
		out = append(out, fmt.Sprintf("GRANT %s TO GROUP %s", what, q(grp)))
	}
	return out
}

func stagingColumns(cols []schema.Column) []schema.Column {
	out := make([]schema.Column, 0, len(cols)+1)
	out = append(out, schema.Column{Name: stage.SequenceColumn, Type: schema.TypeInteger})
	return append(out, cols...)
}

func keyMatch(left, right string, keys []string) string {
	conds := make([]string, len(keys))
	for i, k := range keys {
		conds[i] = fmt.Sprintf("%s.%s = %s.%s", left, q(k), right, q(k))
	}
	return strings.Join(conds, " AND ")
}

// deleteMatchingSQL removes target rows whose key appears in the staging
// table.
func deleteMatchingSQL(table schema.TableRef, staging string, keys []string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE EXISTS (SELECT 1 FROM %s WHERE %s)",
		table.Quoted(), q(staging), keyMatch(q(staging), q(table.Name), keys))
}

// insertLatestSQL inserts, per key, the staged row with the highest
// sequence. With hardDelete, keys whose latest row is flagged deleted are
// skipped; with onlyNew, keys already present in the target are skipped.
func insertLatestSQL(table schema.TableRef, staging string, cols []schema.Column, keys []string, hardDelete, onlyNew bool) string {
	names := quoteAll(columnNames(cols))

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) SELECT %s FROM (SELECT %s, ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s DESC) AS %s FROM %s) AS %s WHERE %s = 1",
		table.Quoted(), names, names, names, quoteAll(keys), q(stage.SequenceColumn), q(rankColumn), q(staging), q("latest"), q(rankColumn))
	if hardDelete {
		fmt.Fprintf(&b, " AND %s IS NULL", q(DeletedAtColumn))
	}
	if onlyNew {
		fmt.Fprintf(&b, " AND NOT EXISTS (SELECT 1 FROM %s WHERE %s)", table.Quoted(), keyMatch(q(table.Name), q("latest"), keys))
	}
	return b.String()
}

func deleteFlaggedSQL(table schema.TableRef) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s IS NOT NULL", table.Quoted(), q(DeletedAtColumn))
}

func dropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + table
}

func hasColumn(cols []schema.Column, name string) bool {
	for _, c := range cols {
		if c.Name == name {
			return true
		}
	}
	return false
}
