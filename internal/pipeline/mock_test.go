package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/provenance-cli/internal/model"
)

// --- Ledger Source Mock ---

type mockSource struct {
	mock.Mock
}

func (m *mockSource) GetProduct(ctx context.Context, productID string) (*model.ProductRecord, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ProductRecord), args.Error(1)
}

func (m *mockSource) GetProductHistory(ctx context.Context, productID string) ([]model.CustodyTransferRecord, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CustodyTransferRecord), args.Error(1)
}

func (m *mockSource) VerificationRecords(ctx context.Context, productID string) ([]model.VerificationRecord, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.VerificationRecord), args.Error(1)
}

func (m *mockSource) DisputeRecords(ctx context.Context, productID string) ([]model.DisputeRecord, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DisputeRecord), args.Error(1)
}

func (m *mockSource) AttestationRecords(ctx context.Context, productID string) ([]model.AttestationRecord, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.AttestationRecord), args.Error(1)
}

// --- Reputation Mock ---

type mockReputation struct {
	mock.Mock
}

func (m *mockReputation) Reputation(ctx context.Context, identity string) (*model.ReputationScore, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ReputationScore), args.Error(1)
}
