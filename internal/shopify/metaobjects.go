package shopify

import (
	"context"
	"strings"
)

type FieldDefinition struct {
	Key  string
	Name string
	Type string
}

type MetaobjectDefinition struct {
	ID     string
	Type   string
	Name   string
	Fields []FieldDefinition
}

func (d *MetaobjectDefinition) FieldKeys() []string {
	keys := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		keys = append(keys, f.Key)
	}
	return keys
}

type MetaobjectField struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Metaobject struct {
	ID     string            `json:"id"`
	Type   string            `json:"type,omitempty"`
	Fields []MetaobjectField `json:"fields"`
}

// UserError is a validation failure reported inside a mutation payload.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
	Code    string   `json:"code,omitempty"`
}

func JoinUserErrors(errs []UserError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if len(e.Field) > 0 {
			msgs = append(msgs, strings.Join(e.Field, ".")+": "+e.Message)
		} else {
			msgs = append(msgs, e.Message)
		}
	}
	return strings.Join(msgs, "; ")
}

type definitionNode struct {
	ID               string `json:"id"`
	Type             string `json:"type"`
	Name             string `json:"name"`
	FieldDefinitions []struct {
		Key  string `json:"key"`
		Name string `json:"name"`
		Type struct {
			Name string `json:"name"`
		} `json:"type"`
	} `json:"fieldDefinitions"`
}

func (n *definitionNode) toDefinition() *MetaobjectDefinition {
	if n == nil {
		return nil
	}
	def := &MetaobjectDefinition{ID: n.ID, Type: n.Type, Name: n.Name}
	for _, f := range n.FieldDefinitions {
		def.Fields = append(def.Fields, FieldDefinition{Key: f.Key, Name: f.Name, Type: f.Type.Name})
	}
	return def
}

const definitionByTypeQuery = `
query DefinitionByType($type: String!) {
  metaobjectDefinitionByType(type: $type) {
    id
    type
    name
    fieldDefinitions { key name type { name } }
  }
}`

// DefinitionByType returns nil (and no error) when the store has no definition of that type.
func (c *Client) DefinitionByType(ctx context.Context, typ string) (*MetaobjectDefinition, error) {
	data, err := run[struct {
		MetaobjectDefinitionByType *definitionNode `json:"metaobjectDefinitionByType"`
	}](ctx, c, "metaobjectDefinitionByType", definitionByTypeQuery, map[string]any{"type": typ})
	if err != nil {
		return nil, err
	}
	return data.MetaobjectDefinitionByType.toDefinition(), nil
}

const createDefinitionMutation = `
mutation CreateDefinition($definition: MetaobjectDefinitionCreateInput!) {
  metaobjectDefinitionCreate(definition: $definition) {
    metaobjectDefinition {
      id
      type
      name
      fieldDefinitions { key name type { name } }
    }
    userErrors { field message code }
  }
}`

func (c *Client) CreateDefinition(ctx context.Context, def MetaobjectDefinition) (*MetaobjectDefinition, []UserError, error) {
	fields := make([]map[string]string, 0, len(def.Fields))
	for _, f := range def.Fields {
		fields = append(fields, map[string]string{"key": f.Key, "name": f.Name, "type": f.Type})
	}
	vars := map[string]any{
		"definition": map[string]any{
			"name":             def.Name,
			"type":             def.Type,
			"fieldDefinitions": fields,
		},
	}

	data, err := run[struct {
		MetaobjectDefinitionCreate struct {
			MetaobjectDefinition *definitionNode `json:"metaobjectDefinition"`
			UserErrors           []UserError     `json:"userErrors"`
		} `json:"metaobjectDefinitionCreate"`
	}](ctx, c, "metaobjectDefinitionCreate", createDefinitionMutation, vars)
	if err != nil {
		return nil, nil, err
	}
	out := data.MetaobjectDefinitionCreate
	return out.MetaobjectDefinition.toDefinition(), out.UserErrors, nil
}

const firstMetaobjectQuery = `
query FirstMetaobject($type: String!) {
  metaobjects(type: $type, first: 1) {
    nodes {
      id
      type
      fields { key value }
    }
  }
}`

// FirstMetaobject returns the first record of the type, or nil when there is none.
func (c *Client) FirstMetaobject(ctx context.Context, typ string) (*Metaobject, error) {
	data, err := run[struct {
		Metaobjects struct {
			Nodes []Metaobject `json:"nodes"`
		} `json:"metaobjects"`
	}](ctx, c, "metaobjects", firstMetaobjectQuery, map[string]any{"type": typ})
	if err != nil {
		return nil, err
	}
	if len(data.Metaobjects.Nodes) == 0 {
		return nil, nil
	}
	mo := data.Metaobjects.Nodes[0]
	return &mo, nil
}

type metaobjectPayload struct {
	Metaobject *Metaobject `json:"metaobject"`
	UserErrors []UserError `json:"userErrors"`
}

const createMetaobjectMutation = `
mutation CreateMetaobject($metaobject: MetaobjectCreateInput!) {
  metaobjectCreate(metaobject: $metaobject) {
    metaobject {
      id
      type
      fields { key value }
    }
    userErrors { field message code }
  }
}`

func (c *Client) CreateMetaobject(ctx context.Context, typ string, fields []MetaobjectField) (*Metaobject, []UserError, error) {
	vars := map[string]any{
		"metaobject": map[string]any{
			"type":   typ,
			"fields": fields,
		},
	}
	data, err := run[struct {
		MetaobjectCreate metaobjectPayload `json:"metaobjectCreate"`
	}](ctx, c, "metaobjectCreate", createMetaobjectMutation, vars)
	if err != nil {
		return nil, nil, err
	}
	return data.MetaobjectCreate.Metaobject, data.MetaobjectCreate.UserErrors, nil
}

const updateMetaobjectMutation = `
mutation UpdateMetaobject($id: ID!, $metaobject: MetaobjectUpdateInput!) {
  metaobjectUpdate(id: $id, metaobject: $metaobject) {
    metaobject {
      id
      type
      fields { key value }
    }
    userErrors { field message code }
  }
}`

func (c *Client) UpdateMetaobject(ctx context.Context, id string, fields []MetaobjectField) (*Metaobject, []UserError, error) {
	vars := map[string]any{
		"id": id,
		"metaobject": map[string]any{
			"fields": fields,
		},
	}
	data, err := run[struct {
		MetaobjectUpdate metaobjectPayload `json:"metaobjectUpdate"`
	}](ctx, c, "metaobjectUpdate", updateMetaobjectMutation, vars)
	if err != nil {
		return nil, nil, err
	}
	return data.MetaobjectUpdate.Metaobject, data.MetaobjectUpdate.UserErrors, nil
}

type ShopInfo struct {
	Name            string `json:"name"`
	MyshopifyDomain string `json:"myshopifyDomain"`
}

const shopInfoQuery = `
query ShopInfo {
  shop {
    name
    myshopifyDomain
  }
}`

func (c *Client) ShopInfo(ctx context.Context) (*ShopInfo, error) {
	data, err := run[struct {
		Shop ShopInfo `json:"shop"`
	}](ctx, c, "shop", shopInfoQuery, map[string]any{})
	if err != nil {
		return nil, err
	}
	return &data.Shop, nil
}
