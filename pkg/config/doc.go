// Package config loads and validates rsloader configuration.
//
// # Sources
//
// Configuration is read from a YAML or JSON file through viper. Before
// parsing, ${VAR_NAME} references are replaced with environment values, so
// secrets can stay out of the file:
//
//	warehouse:
//	  driver: redshift
//	  host: cluster.example.eu-west-1.redshift.amazonaws.com
//	  user: loader
//	  password: ${REDSHIFT_PASSWORD}
//	  dbname: analytics
//	staging:
//	  bucket: my-stage-bucket
//	  copy_role_arn: arn:aws:iam::123456789012:role/redshift-copy
//	target:
//	  default_schema: raw
//	  schema_mapping:
//	    crm:
//	      target_schema: crm_raw
//	      grants:
//	        groups: [analysts]
//	flush:
//	  batch_size_rows: 50000
//	  parallelism: -1
//
// Any key can also be overridden with an RSLOADER_ variable where dots become
// underscores: RSLOADER_FLUSH_BATCH_SIZE_ROWS=1000.
//
// # Validation
//
// Fields carry go-playground/validator tags; Validate reports every problem
// at once with English messages, as a config error.
//
// # Parallelism
//
// flush.parallelism is resolved once at startup by ResolveParallelism:
// positive values are fixed, 0 means one worker per stream up to
// flush.max_parallelism and -1 means one per logical CPU.
package config
