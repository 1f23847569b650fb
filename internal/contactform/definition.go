// Package contactform keeps a shop's contact form field selection in a
// singleton "contact_form" metaobject.
package contactform

import (
	"easyform/internal/shopify"
)

const (
	DefinitionType = "contact_form"
	DefinitionName = "Contact Form"

	fieldType = "single_line_text_field"
)

// FieldKeys is the fixed, ordered field set of the contact_form definition.
var FieldKeys = []string{
	"firstName",
	"lastName",
	"email",
	"phone",
	"address",
	"city",
	"state",
	"country",
	"zipCode",
	"subject",
	"message",
}

var fieldNames = map[string]string{
	"firstName": "First Name",
	"lastName":  "Last Name",
	"email":     "Email",
	"phone":     "Phone",
	"address":   "Address",
	"city":      "City",
	"state":     "State",
	"country":   "Country",
	"zipCode":   "Zip Code",
	"subject":   "Subject",
	"message":   "Message",
}

// fallbackKeys stand in when a resolved definition reports no fields.
var fallbackKeys = []string{"firstName", "lastName", "email"}

// NewDefinition builds the create input for the contact_form definition.
// Each call returns a fresh value.
func NewDefinition() shopify.MetaobjectDefinition {
	fields := make([]shopify.FieldDefinition, 0, len(FieldKeys))
	for _, k := range FieldKeys {
		fields = append(fields, shopify.FieldDefinition{Key: k, Name: fieldNames[k], Type: fieldType})
	}
	return shopify.MetaobjectDefinition{
		Type:   DefinitionType,
		Name:   DefinitionName,
		Fields: fields,
	}
}
