package ports

import (
	"context"

	"github.com/google/uuid"

	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/domain"
)

type InspectionRepository interface {
	Create(ctx context.Context, inspection *domain.Inspection) (*domain.Inspection, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Inspection, error)
	Update(ctx context.Context, inspection *domain.Inspection) (*domain.Inspection, error)
	List(ctx context.Context, filter domain.InspectionListFilter) ([]domain.Inspection, error)
	CountByStatus(ctx context.Context) (*domain.InspectionStats, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
