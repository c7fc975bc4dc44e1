package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type returnRequestRepository struct{ v view }

// Create сохраняет заявку; вторая PENDING-заявка по той же позиции отклоняется.
func (r *returnRequestRepository) Create(_ context.Context, request domain.ReturnRequest) error {
	if request.ID == "" {
		return domain.ErrInvalidInput.Withf("return request id is required")
	}
	return r.v.write(func(st *state) error {
		for _, existing := range st.returns {
			if existing.OrderID == request.OrderID &&
				existing.ItemID == request.ItemID &&
				existing.Status == domain.ReturnStatusPending {
				return domain.ErrReturnAlreadyRequested
			}
		}
		st.returns[request.ID] = request
		return nil
	})
}

func (r *returnRequestRepository) Get(_ context.Context, id string) (domain.ReturnRequest, error) {
	var request domain.ReturnRequest
	err := r.v.read(func(st *state) error {
		rr, ok := st.returns[id]
		if !ok {
			return domain.ErrReturnRequestNotFound
		}
		request = rr
		return nil
	})
	return request, err
}

// Resolve переводит заявку из PENDING в итоговый статус.
func (r *returnRequestRepository) Resolve(_ context.Context, id string, status domain.ReturnStatus, at time.Time) error {
	return r.v.write(func(st *state) error {
		rr, ok := st.returns[id]
		if !ok {
			return domain.ErrReturnRequestNotFound
		}
		if rr.Status != domain.ReturnStatusPending {
			return domain.ErrReturnAlreadyProcessed
		}
		rr.Status = status
		rr.ProcessedAt = &at
		st.returns[id] = rr
		return nil
	})
}

// ListPending возвращает PENDING-заявки, старые первыми.
func (r *returnRequestRepository) ListPending(_ context.Context, limit int) ([]domain.ReturnRequest, error) {
	var result []domain.ReturnRequest
	err := r.v.read(func(st *state) error {
		for _, rr := range st.returns {
			if rr.Status == domain.ReturnStatusPending {
				result = append(result, rr)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ domain.ReturnRequestRepository = (*returnRequestRepository)(nil)
