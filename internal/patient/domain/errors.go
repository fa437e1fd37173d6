package domain

import (
	"fmt"

	"github.com/medflow/platform/internal/shared/errors"
	"github.com/medflow/platform/internal/shared/types"
)

func errSignedFile() error {
	return errors.IllegalTransition("clinical_file", string(FileStatusSigned), "modify")
}

func errAlreadySigned(entity string, id types.ID) error {
	return errors.AlreadySigned(entity, id.String())
}

func errMissingComplaint() error {
	return errors.Validation("chief complaint is required", map[string]string{"field": "chief_complaint"})
}

func errNoSuggestion(field string) error {
	return errors.Validation(fmt.Sprintf("no pending suggestion for %s", field), map[string]string{"field": field})
}

func errInvalid(format string, args ...any) error {
	return errors.Validation(fmt.Sprintf(format, args...), nil)
}

func errDischarged() error {
	return errors.IllegalTransition("patient", string(StatusDischarged), "modify")
}
