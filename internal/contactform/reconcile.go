package contactform

import (
	"easyform/internal/shopify"
)

// Reconcile maps a selection onto the definition's fields: one entry per
// definition field, in definition order, "true" when selected. Selected
// keys the definition does not know are dropped. Email gets no special
// treatment here.
func Reconcile(selected []string, def *shopify.MetaobjectDefinition) []shopify.MetaobjectField {
	var available []string
	if def != nil {
		available = def.FieldKeys()
	}
	if len(available) == 0 {
		available = fallbackKeys
	}

	chosen := make(map[string]bool, len(selected))
	for _, k := range selected {
		chosen[k] = true
	}

	out := make([]shopify.MetaobjectField, 0, len(available))
	for _, k := range available {
		v := "false"
		if chosen[k] {
			v = "true"
		}
		out = append(out, shopify.MetaobjectField{Key: k, Value: v})
	}
	return out
}

// Selection is the per-field on/off state the admin UI and storefront
// widget render from: every known field off except email, overlaid with
// the record's "true" values.
func Selection(mo *shopify.Metaobject) map[string]bool {
	state := make(map[string]bool, len(FieldKeys))
	for _, k := range FieldKeys {
		state[k] = false
	}
	state["email"] = true

	if mo == nil {
		return state
	}
	for _, f := range mo.Fields {
		if _, known := state[f.Key]; known && f.Value == "true" {
			state[f.Key] = true
		}
	}
	return state
}

// Selected lists the enabled keys of a record, in record order.
func Selected(fields []shopify.MetaobjectField) []string {
	var keys []string
	for _, f := range fields {
		if f.Value == "true" {
			keys = append(keys, f.Key)
		}
	}
	return keys
}
