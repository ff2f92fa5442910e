package config

import (
	"reflect"
	"strings"
	"sync"

	"github.com/ajitpratap0/rsloader/pkg/errors"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// use a single instance, it caches struct info
var (
	validateOnce sync.Once
	validate     *validator.Validate
	trans        ut.Translator
)

func validatorInstance() (*validator.Validate, ut.Translator) {
	validateOnce.Do(func() {
		locale := en.New()
		uni := ut.New(locale, locale)
		trans, _ = uni.GetTranslator("en")

		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		if err := en_translations.RegisterDefaultTranslations(validate, trans); err != nil {
			panic(err)
		}
	})
	return validate, trans
}

// Validate checks field constraints and the rules that span sections.
func (c *LoaderConfig) Validate() error {
	v, tr := validatorInstance()

	var problems []string
	if err := v.Struct(c); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return errors.Wrap(err, errors.ErrorTypeConfig, "invalid configuration")
		}
		for _, e := range verrs {
			problems = append(problems, strings.TrimPrefix(e.Namespace(), "LoaderConfig.")+": "+e.Translate(tr))
		}
	}

	if c.Warehouse.Driver == DriverRedshift && c.Staging.Bucket == "" {
		problems = append(problems, "staging.bucket: redshift loads COPY from S3 and need a bucket")
	}
	if c.Flush.Parallelism > c.Flush.MaxParallelism && c.Flush.MaxParallelism > 0 {
		problems = append(problems, "flush.parallelism: must not exceed flush.max_parallelism")
	}

	if len(problems) > 0 {
		return errors.New(errors.ErrorTypeConfig, "invalid configuration: "+strings.Join(problems, "; ")).
			WithDetail("problems", problems)
	}
	return nil
}
