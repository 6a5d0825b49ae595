package middleware

import (
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/storely/messaging-api/internal/model"
)

// RegisterValidators installs the repository's custom rules on gin's binding
// engine. Called once at router construction; registration is idempotent.
func RegisterValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}

	// Error messages reference json field names, not Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})

	v.RegisterStructValidation(validateSendMessageRequest, model.SendMessageRequest{})
}

// validateSendMessageRequest enforces the channel-dependent recipient format
// at bind time: email addresses for the email channel, E.164 phone numbers
// for SMS. Email additionally requires a subject.
func validateSendMessageRequest(sl validator.StructLevel) {
	req := sl.Current().Interface().(model.SendMessageRequest)

	switch req.Channel {
	case model.ChannelEmail:
		if sl.Validator().Var(req.To, "required,email") != nil {
			sl.ReportError(req.To, "to", "To", "email", "")
		}
		if req.Subject == "" {
			sl.ReportError(req.Subject, "subject", "Subject", "required", "")
		}
	case model.ChannelSMS:
		if sl.Validator().Var(req.To, "required,e164") != nil {
			sl.ReportError(req.To, "to", "To", "e164", "")
		}
	}
}
