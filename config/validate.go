// Copyright 2021 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/juju/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks value ranges and enumerations. Every violated field is
// reported in a single error.
func (config *Config) Validate() error {
	err := getValidator().Struct(config)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return errors.Trace(err)
	}
	messages := make([]string, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		messages = append(messages, describe(fieldError))
	}
	return errors.NotValidf("config: %s", strings.Join(messages, "; "))
}

func describe(fieldError validator.FieldError) string {
	name := fieldError.Namespace()
	switch fieldError.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] but got %v", name, fieldError.Param(), fieldError.Value())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s but got %v", name, fieldError.Param(), fieldError.Value())
	case "gte":
		return fmt.Sprintf("%s must not be less than %s but got %v", name, fieldError.Param(), fieldError.Value())
	case "lte":
		return fmt.Sprintf("%s must not be greater than %s but got %v", name, fieldError.Param(), fieldError.Value())
	default:
		return fmt.Sprintf("%s failed on %s", name, fieldError.Tag())
	}
}
