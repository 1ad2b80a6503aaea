package interfaces

import (
	"context"

	"github.com/ternarybob/reelfetch/internal/models"
)

// PageResolver turns a loaded page into the resource URL it offers
type PageResolver interface {
	Resolve(ctx context.Context, pc PageContext, item models.WorkItem) (models.ResourceReference, error)
}
