package config_test

import (
	"fmt"
	"log"

	"github.com/ajitpratap0/rsloader/pkg/config"
)

// ExampleParse loads a minimal local configuration.
func ExampleParse() {
	cfg, err := config.Parse([]byte(`
warehouse:
  driver: sqlite
  path: /tmp/rsloader.db
flush:
  batch_size_rows: 500
  parallelism: 2
`), "yaml")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(cfg.Warehouse.Driver)
	fmt.Println(cfg.Flush.BatchSizeRows, cfg.Flush.ResolveParallelism())
	fmt.Println(cfg.Target.DefaultSchema, cfg.Target.PrimaryKeyRequired)

	// Output:
	// sqlite
	// 500 2
	// public true
}

// ExampleTargetConfig_SchemaFor shows schema mapping with a default fallback.
func ExampleTargetConfig_SchemaFor() {
	target := config.TargetConfig{
		DefaultSchema: "raw",
		SchemaMapping: map[string]config.SchemaMapping{
			"crm": {TargetSchema: "crm_raw", Grants: config.Grants{Groups: []string{"analysts"}}},
		},
	}

	schema, grants := target.SchemaFor("crm")
	fmt.Println(schema, grants.Groups)
	schema, _ = target.SchemaFor("billing")
	fmt.Println(schema)

	// Output:
	// crm_raw [analysts]
	// raw
}
