package contactform

import (
	"context"
	"log"
	"time"

	"easyform/internal/shopify"
)

// DefaultVerifyDelay is how long ResolveSchema waits after creating the
// definition before it re-queries for it.
const DefaultVerifyDelay = 2 * time.Second

// AdminAPI is the part of the Shopify Admin API the contact form needs.
// *shopify.Client implements it.
type AdminAPI interface {
	DefinitionByType(ctx context.Context, typ string) (*shopify.MetaobjectDefinition, error)
	CreateDefinition(ctx context.Context, def shopify.MetaobjectDefinition) (*shopify.MetaobjectDefinition, []shopify.UserError, error)
	FirstMetaobject(ctx context.Context, typ string) (*shopify.Metaobject, error)
	CreateMetaobject(ctx context.Context, typ string, fields []shopify.MetaobjectField) (*shopify.Metaobject, []shopify.UserError, error)
	UpdateMetaobject(ctx context.Context, id string, fields []shopify.MetaobjectField) (*shopify.Metaobject, []shopify.UserError, error)
}

type Service struct {
	api         AdminAPI
	verifyDelay time.Duration
}

func NewService(api AdminAPI, verifyDelay time.Duration) *Service {
	if verifyDelay < 0 {
		verifyDelay = 0
	}
	return &Service{api: api, verifyDelay: verifyDelay}
}

// ResolveSchema returns the shop's contact_form definition, creating it when absent.
// An existing definition is returned as-is even if its fields differ from FieldKeys.
func (s *Service) ResolveSchema(ctx context.Context) (*shopify.MetaobjectDefinition, error) {
	def, err := s.api.DefinitionByType(ctx, DefinitionType)
	if err != nil {
		return nil, transport("query definition", err)
	}
	if def != nil {
		return def, nil
	}

	_, uerrs, err := s.api.CreateDefinition(ctx, NewDefinition())
	if err != nil {
		return nil, transport("create definition", err)
	}
	if len(uerrs) > 0 {
		log.Printf("contactform: definition create rejected, retrying: %s", shopify.JoinUserErrors(uerrs))

		// The retry sends the same eleven fields as the first attempt.
		_, uerrs, err = s.api.CreateDefinition(ctx, NewDefinition())
		if err != nil {
			return nil, transport("create definition", err)
		}
		if len(uerrs) > 0 {
			return nil, &SchemaCreationError{UserErrors: uerrs}
		}
	}

	if err := wait(ctx, s.verifyDelay); err != nil {
		return nil, err
	}

	def, err = s.api.DefinitionByType(ctx, DefinitionType)
	if err != nil {
		return nil, transport("verify definition", err)
	}
	if def == nil {
		return nil, ErrSchemaVerification
	}
	return def, nil
}

// Upsert writes fields to the singleton contact_form record, updating the
// first existing record or creating one.
func (s *Service) Upsert(ctx context.Context, fields []shopify.MetaobjectField) (*shopify.Metaobject, error) {
	existing, err := s.api.FirstMetaobject(ctx, DefinitionType)
	if err != nil {
		return nil, transport("query metaobject", err)
	}

	if existing != nil {
		mo, uerrs, err := s.api.UpdateMetaobject(ctx, existing.ID, fields)
		if err != nil {
			return nil, transport("update metaobject", err)
		}
		if len(uerrs) > 0 {
			return nil, &RecordWriteError{Op: "metaobjectUpdate", UserErrors: uerrs}
		}
		if mo == nil {
			return nil, transport("update metaobject", ErrNoRecord)
		}
		return mo, nil
	}

	mo, uerrs, err := s.api.CreateMetaobject(ctx, DefinitionType, fields)
	if err != nil {
		return nil, transport("create metaobject", err)
	}
	if len(uerrs) > 0 {
		return nil, &RecordWriteError{Op: "metaobjectCreate", UserErrors: uerrs}
	}
	if mo == nil {
		return nil, transport("create metaobject", ErrNoRecord)
	}
	return mo, nil
}

// Save resolves the definition, reconciles the selection against it and upserts the record.
func (s *Service) Save(ctx context.Context, selected []string) (*shopify.Metaobject, error) {
	def, err := s.ResolveSchema(ctx)
	if err != nil {
		return nil, err
	}
	return s.Upsert(ctx, Reconcile(selected, def))
}

// Load returns the saved record, or nil when the shop has never saved one.
func (s *Service) Load(ctx context.Context) (*shopify.Metaobject, error) {
	mo, err := s.api.FirstMetaobject(ctx, DefinitionType)
	if err != nil {
		return nil, transport("query metaobject", err)
	}
	return mo, nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
