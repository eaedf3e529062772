// Package bootstrap seeds the automation core with a usable baseline on first
// start: one default approval workflow per entity type and a starter trigger
// set. Seeding is idempotent; existing definitions are never touched.
package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/studioflow/backend/internal/application/services"
	"github.com/studioflow/backend/internal/domain/events"
	"github.com/studioflow/backend/internal/domain/models"
)

// InitializeDefaults ensures every entity type has a default workflow and the
// baseline outcome triggers exist. Called during server startup before
// accepting requests.
func InitializeDefaults(ctx context.Context, sm *services.ServiceManager, adminRole string) error {
	log.Println("🔧 Initializing automation defaults...")

	if err := seedWorkflows(ctx, sm, adminRole); err != nil {
		return err
	}
	if err := seedTriggers(ctx, sm, adminRole); err != nil {
		return err
	}
	return nil
}

func seedWorkflows(ctx context.Context, sm *services.ServiceManager, adminRole string) error {
	seeded := 0
	for _, entityType := range models.ApprovableEntityTypes {
		defs, err := sm.Workflow.List(ctx, entityType)
		if err != nil {
			return fmt.Errorf("failed to list %s workflows: %w", entityType, err)
		}
		if len(defs) > 0 {
			continue
		}

		def := &models.WorkflowDefinition{
			Name:       fmt.Sprintf("Default %s approval", entityType),
			EntityType: entityType,
			Mode:       models.ModeSequential,
			IsActive:   true,
			IsDefault:  true,
			Steps: []*models.WorkflowStep{
				{
					Sequence:      1,
					ApproverKind:  models.ApproverRole,
					ApproverValue: adminRole,
					// A week of silence resolves the step rather than
					// stalling the entity forever
					AutoApproveAfter: 7 * 24 * time.Hour,
				},
			},
		}
		if err := sm.Workflow.Create(ctx, def); err != nil {
			return fmt.Errorf("failed to seed %s workflow: %w", entityType, err)
		}
		seeded++
	}

	if seeded > 0 {
		log.Printf("   ✅ Seeded %d default workflow(s)", seeded)
	}
	return nil
}

func seedTriggers(ctx context.Context, sm *services.ServiceManager, adminRole string) error {
	existing, err := sm.Trigger.ListTriggers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list triggers: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	starters := []*models.TriggerDefinition{
		{
			Name:       "Notify on invoice approval",
			EventType:  events.InvoiceApproved,
			ActionType: models.ActionNotify,
			ActionConfig: map[string]interface{}{
				"recipient": adminRole,
				"subject":   "Invoice approved",
				"body":      "Invoice {{entity_id}} was approved.",
			},
			IsActive: true,
			Priority: 10,
		},
		{
			Name:       "Notify on invoice rejection",
			EventType:  events.InvoiceRejected,
			ActionType: models.ActionNotify,
			ActionConfig: map[string]interface{}{
				"recipient": adminRole,
				"subject":   "Invoice rejected",
				"body":      "Invoice {{entity_id}} was rejected.",
			},
			IsActive: true,
			Priority: 10,
		},
		{
			Name:       "Notify on contract approval",
			EventType:  events.ContractApproved,
			ActionType: models.ActionNotify,
			ActionConfig: map[string]interface{}{
				"recipient": adminRole,
				"subject":   "Contract approved",
				"body":      "Contract {{entity_id}} was approved.",
			},
			IsActive: true,
			Priority: 10,
		},
	}

	for _, def := range starters {
		if err := sm.Trigger.CreateTrigger(ctx, def); err != nil {
			return fmt.Errorf("failed to seed trigger %q: %w", def.Name, err)
		}
	}
	log.Printf("   ✅ Seeded %d starter trigger(s)", len(starters))
	return nil
}
